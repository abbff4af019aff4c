// Package notify defines the outbound notification collaborator.
//
// Delivery is fire-and-forget: a failed notification is logged and swallowed,
// never allowed to block or roll back a financial operation.
package notify

import "log"

// Notifier sends a templated message to a member's email address.
type Notifier interface {
	Notify(email, template string, data map[string]any) error
}

// LogNotifier writes notifications to the process log. Used in development
// and as the default when no mail transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(email, template string, data map[string]any) error {
	log.Printf("[Notify] to=%s template=%s data=%v", email, template, data)
	return nil
}

// Discard drops notifications. Used in tests.
type Discard struct{}

func (Discard) Notify(string, string, map[string]any) error { return nil }
