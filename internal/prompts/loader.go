package prompts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
)

// Meta is the frontmatter carried by each prompt template
type Meta struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// Loader resolves prompt templates with override support. Override
// directories are checked in order; the embedded template is the fallback.
type Loader struct {
	overrideDirs []string

	mu    sync.RWMutex
	cache map[string]string
	meta  map[string]*Meta
}

// NewLoader creates a loader. A project typically passes its
// .orch/prompts directory so operators can tune prompts per project.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]string),
		meta:         make(map[string]*Meta),
	}
}

// Load returns the prompt body for a template name such as "worker_code"
func (l *Loader) Load(name string) (string, error) {
	l.mu.RLock()
	if body, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return body, nil
	}
	l.mu.RUnlock()

	raw, err := l.read(name)
	if err != nil {
		return "", err
	}
	meta, body, err := splitFrontmatter(raw)
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = body
	l.meta[name] = meta
	l.mu.Unlock()
	return body, nil
}

// Meta returns the frontmatter for a template, loading it if needed
func (l *Loader) Meta(name string) (*Meta, error) {
	if _, err := l.Load(name); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta[name], nil
}

func (l *Loader) read(name string) ([]byte, error) {
	filename := name + ".md"
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, filename)); err == nil {
			return data, nil
		}
	}
	return embeddedFS.ReadFile("templates/" + filename)
}

var frontmatterDelim = []byte("---\n")

// splitFrontmatter separates the yaml header from the prompt body. A missing
// header is fine; the whole file is the body.
func splitFrontmatter(raw []byte) (*Meta, string, error) {
	if !bytes.HasPrefix(raw, frontmatterDelim) {
		return &Meta{}, string(bytes.TrimSpace(raw)), nil
	}
	rest := raw[len(frontmatterDelim):]
	end := bytes.Index(rest, frontmatterDelim)
	if end < 0 {
		return nil, "", fmt.Errorf("unterminated frontmatter")
	}

	var meta Meta
	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		return nil, "", fmt.Errorf("parsing frontmatter: %w", err)
	}
	body := bytes.TrimSpace(rest[end+len(frontmatterDelim):])
	return &meta, string(body), nil
}

// ForTaskType maps a task type to its worker template name
func ForTaskType(t domain.TaskType) string {
	switch t {
	case domain.TypeTest:
		return "worker_test"
	case domain.TypeFix:
		return "worker_fix"
	case domain.TypeReview:
		return "worker_review"
	default:
		return "worker_code"
	}
}
