package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// SMTPSink sends notifications over SMTP. No pure-Go SMTP client appears in
// any example repo's dependency closure, so this uses net/smtp (stdlib);
// justified in DESIGN.md.
type SMTPSink struct {
	cfg carrottypes.EmailConfig
}

// NewSMTPSink constructs an SMTPSink from spec §6's email config.
func NewSMTPSink(cfg carrottypes.EmailConfig) *SMTPSink {
	return &SMTPSink{cfg: cfg}
}

// Name returns the sink identifier.
func (s *SMTPSink) Name() string { return "smtp" }

// Send delivers the notification as a plaintext email via SMTP.
func (s *SMTPSink) Send(_ context.Context, to string, n Notification) error {
	body, err := renderBody(n)
	if err != nil {
		return err
	}

	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject(n), body)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", to, err)
	}
	return nil
}
