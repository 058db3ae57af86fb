// Package prompts provides the collaborator system prompts, embedded with
// per-project override support.
package prompts

import "embed"

//go:embed templates/*.md
var embeddedFS embed.FS
