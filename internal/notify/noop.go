package notify

import "context"

// NoopSink discards every notification, used when email.mode is "none".
type NoopSink struct{}

// NewNoopSink constructs a NoopSink.
func NewNoopSink() *NoopSink { return &NoopSink{} }

// Name returns the sink identifier.
func (s *NoopSink) Name() string { return "none" }

// Send discards the notification.
func (s *NoopSink) Send(_ context.Context, _ string, _ Notification) error { return nil }
