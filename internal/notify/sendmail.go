package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// SendmailSink delivers notifications by piping an RFC 822 message into the
// local `sendmail` binary, the same os/exec pattern internal/gitmirror and
// internal/womtool use to shell out rather than vendor the subprocess's
// functionality in Go.
type SendmailSink struct {
	cfg carrottypes.EmailConfig
	bin string
}

// NewSendmailSink constructs a SendmailSink from spec §6's email config.
func NewSendmailSink(cfg carrottypes.EmailConfig) *SendmailSink {
	return &SendmailSink{cfg: cfg, bin: "sendmail"}
}

// NewSendmailSinkWithBin constructs a SendmailSink against an explicit
// binary path, the same injection seam internal/womtool.NewWithJavaBin uses
// to exercise the subprocess plumbing against a fake script in tests.
func NewSendmailSinkWithBin(cfg carrottypes.EmailConfig, bin string) *SendmailSink {
	return &SendmailSink{cfg: cfg, bin: bin}
}

// Name returns the sink identifier.
func (s *SendmailSink) Name() string { return "sendmail" }

// Send pipes a plaintext email to `sendmail -t`.
func (s *SendmailSink) Send(ctx context.Context, to string, n Notification) error {
	body, err := renderBody(n)
	if err != nil {
		return err
	}

	from := s.cfg.From
	msg := fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s", from, to, subject(n), body)

	cmd := exec.CommandContext(ctx, s.bin, "-t")
	cmd.Stdin = bytes.NewBufferString(msg)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return carrottypes.NewError(carrottypes.ErrExternalTransient,
			fmt.Sprintf("sendmail failed: %s", stderr.String()), err)
	}
	return nil
}
