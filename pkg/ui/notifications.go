package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// AppName is used as the title of desktop notifications
const AppName = "pharmascraper"

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name", AppName, title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %s with title %s`, appleQuote(message), appleQuote(title))
	return exec.Command("osascript", "-e", script).Run()
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("%s").Show($toast)
	`, xmlEscape(title), xmlEscape(message), AppName)

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}

// Notifier sends desktop notifications when enabled. Failures are ignored,
// a notification never affects the crawl.
type Notifier struct {
	sender  NotificationSender
	enabled bool
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier(enabled bool) *Notifier {
	var sender NotificationSender

	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	case "windows":
		sender = &WindowsNotificationSender{}
	}

	return &Notifier{sender: sender, enabled: enabled}
}

// NewNotifierWithSender is used by tests and custom integrations
func NewNotifierWithSender(sender NotificationSender, enabled bool) *Notifier {
	return &Notifier{sender: sender, enabled: enabled}
}

// Enabled reports whether notifications will be sent
func (n *Notifier) Enabled() bool {
	return n != nil && n.enabled && n.sender != nil
}

func (n *Notifier) send(title, message string) {
	if !n.Enabled() {
		return
	}
	_ = n.sender.Send(title, message)
}

// PartitionFailed notifies that a partition gave up
func (n *Notifier) PartitionFailed(partition, reason string) {
	n.send(AppName+": partition failed", fmt.Sprintf("%s: %s", partition, reason))
}

// RunFinished notifies the end of a run
func (n *Notifier) RunFinished(records, failed int, cancelled bool) {
	switch {
	case cancelled:
		n.send(AppName, fmt.Sprintf("Interrupted after %d records", records))
	case failed > 0:
		n.send(AppName, fmt.Sprintf("Finished with %d records, %d partitions failed", records, failed))
	default:
		n.send(AppName, fmt.Sprintf("Finished with %d records", records))
	}
}
