// Package notify implements the notification dispatcher of spec.md §4.7: on
// any terminal run transition it enumerates subscribers across the run's
// pipeline/template/test scopes plus the run's own creator, and sends one
// templated email per distinct address. Generalized from the teacher's
// internal/alert.Dispatcher fan-out (multiple Sink destinations, best-effort
// delivery, errors logged rather than retried) to CARROT's single transport
// (email) with many recipients instead of the teacher's single alert with
// many sink types.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"text/template"
	"time"

	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// Sink delivers a rendered notification to one address.
type Sink interface {
	Send(ctx context.Context, to string, n Notification) error
	Name() string
}

// Notification carries everything the email template needs (spec §4.7:
// "run id, status, result URIs, and error log").
type Notification struct {
	RunID       string
	RunName     string
	TestID      string
	Status      carrottypes.RunStatus
	FinishedAt  time.Time
	Results     map[string]string // result name -> value (file results are URIs)
	ErrorLog    []string
}

// Dispatcher enumerates subscribers for a terminal run and sends one
// notification per distinct address via the configured Sink.
type Dispatcher struct {
	store  store.Provider
	sink   Sink
	logger *slog.Logger
}

// New constructs a Dispatcher. A nil or EmailModeNone config should be
// turned into a *NoopSink by the caller (see NewSink) rather than a nil
// Dispatcher, so OnRunTerminal always has somewhere safe to send to.
func New(st store.Provider, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: st, sink: sink, logger: logger}
}

// NewSink builds the configured Sink from spec §6's email config, grounded
// on internal/alert.newSink's cfg.Type switch.
func NewSink(cfg carrottypes.EmailConfig) (Sink, error) {
	switch cfg.Mode {
	case carrottypes.EmailModeNone, "":
		return NewNoopSink(), nil
	case carrottypes.EmailModeSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("smtp email mode requires smtpHost")
		}
		return NewSMTPSink(cfg), nil
	case carrottypes.EmailModeSendmail:
		return NewSendmailSink(cfg), nil
	default:
		return nil, fmt.Errorf("unknown email mode %q", cfg.Mode)
	}
}

// OnRunTerminal is called once a run lands in a terminal status (the same
// sweep-driven hook internal/reporttrigger.OnRunTerminal uses). Every
// terminal status triggers a notification per spec §4.7 ("any non-failed
// terminal transition and any failure transition" — since succeeded is the
// only non-failed terminal status, this is simply every terminal status).
func (d *Dispatcher) OnRunTerminal(ctx context.Context, run carrottypes.Run) error {
	test, err := d.store.GetTest(ctx, run.TestID)
	if err != nil {
		return fmt.Errorf("lookup test: %w", err)
	}
	if test == nil {
		return carrottypes.NewError(carrottypes.ErrCarrotInternal, fmt.Sprintf("test %s not found", run.TestID), nil)
	}
	tmpl, err := d.store.GetTemplate(ctx, test.TemplateID)
	if err != nil {
		return fmt.Errorf("lookup template: %w", err)
	}
	if tmpl == nil {
		return carrottypes.NewError(carrottypes.ErrCarrotInternal, fmt.Sprintf("template %s not found", test.TemplateID), nil)
	}

	addresses, err := d.subscriberAddresses(ctx, run, test, tmpl)
	if err != nil {
		return fmt.Errorf("enumerate subscribers: %w", err)
	}
	if len(addresses) == 0 {
		return nil
	}

	n, err := d.buildNotification(ctx, run)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}

	for _, addr := range addresses {
		if err := d.sink.Send(ctx, addr, n); err != nil {
			metrics.NotificationsFailed.Add(1)
			d.logger.Error("notification delivery failed", "sink", d.sink.Name(), "to", addr, "run_id", run.RunID, "error", err)
			continue
		}
		metrics.NotificationsSent.Add(1)
	}
	return nil
}

// subscriberAddresses unions subscriptions on the run's pipeline, template,
// and test scopes with the run's own creator (spec §4.7), deduplicated, in
// a stable order so Send calls (and tests) don't depend on map iteration.
func (d *Dispatcher) subscriberAddresses(ctx context.Context, run carrottypes.Run, test *carrottypes.Test, tmpl *carrottypes.Template) ([]string, error) {
	seen := map[string]struct{}{}
	var addresses []string
	add := func(addr string) {
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}

	scopes := []struct {
		entity carrottypes.SubscriptionEntity
		id     string
	}{
		{carrottypes.SubscriptionTest, test.TestID},
		{carrottypes.SubscriptionTemplate, tmpl.TemplateID},
		{carrottypes.SubscriptionPipeline, tmpl.PipelineID},
	}
	for _, scope := range scopes {
		subs, err := d.store.ListSubscriptions(ctx, scope.entity, scope.id)
		if err != nil {
			return nil, fmt.Errorf("list %s subscriptions: %w", scope.entity, err)
		}
		for _, s := range subs {
			add(s.Email)
		}
	}
	add(run.CreatedBy)

	sort.Strings(addresses)
	return addresses, nil
}

func (d *Dispatcher) buildNotification(ctx context.Context, run carrottypes.Run) (Notification, error) {
	n := Notification{
		RunID:   run.RunID,
		RunName: run.Name,
		TestID:  run.TestID,
		Status:  run.Status,
	}
	if run.FinishedAt != nil {
		n.FinishedAt = *run.FinishedAt
	}

	results, err := d.store.ListRunResultsByRun(ctx, run.RunID)
	if err != nil {
		return Notification{}, fmt.Errorf("list run results: %w", err)
	}
	if len(results) > 0 {
		n.Results = make(map[string]string, len(results))
		for _, rr := range results {
			res, err := d.store.GetResult(ctx, rr.ResultID)
			if err != nil {
				return Notification{}, fmt.Errorf("lookup result %s: %w", rr.ResultID, err)
			}
			name := rr.ResultID
			if res != nil {
				name = res.Name
			}
			n.Results[name] = rr.Value
		}
	}

	errs, err := d.store.ListRunErrors(ctx, run.RunID)
	if err != nil {
		return Notification{}, fmt.Errorf("list run errors: %w", err)
	}
	for _, e := range errs {
		n.ErrorLog = append(n.ErrorLog, e.Message)
	}

	return n, nil
}

// bodyTemplate renders the common plaintext body shared by every sink.
// Grounded on internal/alert's message-construction style (a single
// fmt.Sprintf-built string); text/template is used here instead since
// the body now has several optional sections (results, errors).
var bodyTemplate = template.Must(template.New("notification").Parse(
	`Run {{.RunID}} ({{.RunName}}) finished with status {{.Status}}.
Test: {{.TestID}}
Finished at: {{.FinishedAt}}
{{if .Results}}
Results:
{{range $name, $value := .Results}}  {{$name}}: {{$value}}
{{end}}{{end}}{{if .ErrorLog}}
Errors:
{{range .ErrorLog}}  {{.}}
{{end}}{{end}}`))

func renderBody(n Notification) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("render notification body: %w", err)
	}
	return buf.String(), nil
}

func subject(n Notification) string {
	return fmt.Sprintf("[carrot] run %s (%s) %s", n.RunID, n.RunName, n.Status)
}
