// Package notify delivers alerts to a Telegram chat. Delivery is
// fire-and-forget: every failure mode is logged and discarded so a
// broken notification channel can never stall or fail the calling
// loop.
package notify

import "strings"

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// NormalizeSeverity maps arbitrary severity strings onto the known
// set; anything unrecognized becomes info.
func NormalizeSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityWarn:
		return SeverityWarn
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

func (s Severity) prefix() string {
	switch s {
	case SeverityWarn:
		return "⚠️"
	case SeverityCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

// Notifier is the alert delivery interface both loops call.
type Notifier interface {
	Send(sev Severity, msg string)
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Send(sev Severity, msg string) {}
