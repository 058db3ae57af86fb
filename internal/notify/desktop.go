package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier pops orchestrator alerts on the local desktop
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send delivers the notification through the platform's native channel
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // unsupported platform
	}
}

// renderTitle prefixes the project so alerts from a multi-project portfolio
// stay distinguishable at a glance
func renderTitle(n Notification) string {
	if n.Project != "" {
		return fmt.Sprintf("[%s] %s", n.Project, n.Title)
	}
	return n.Title
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := fmt.Sprintf("display notification %q with title %q", n.Message, renderTitle(n))
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	return exec.Command("notify-send",
		"-i", iconForType(n.Type),
		"-u", urgencyForType(n.Type),
		renderTitle(n), n.Message).Run()
}

// iconForType maps a notification type to a freedesktop icon name
func iconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}

// urgencyForType maps a notification type to a notify-send urgency level.
// Auto-pause and cycle failures should interrupt; the rest should not.
func urgencyForType(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifyWarning:
		return "normal"
	default:
		return "low"
	}
}
