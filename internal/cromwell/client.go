// Package cromwell implements the HTTP client for the external Cromwell
// workflow engine (spec §6). It generalizes the teacher's
// internal/trigger/{trigger,sfn,runner,status}.go submit-then-poll shape —
// a functional-options-injectable client exposing Submit/Status/Outputs/
// Abort — down to CARROT's single external engine, in place of the
// teacher's per-AWS-service trigger dispatch.
package cromwell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

var tracer = otel.Tracer("github.com/carrotsystems/carrot/internal/cromwell")

var meter = otel.Meter("github.com/carrotsystems/carrot/internal/cromwell")

// callDuration and callErrors instrument every engine call by operation
// name, satisfying SPEC_FULL.md §7's call-latency/error-rate requirement
// for go.opentelemetry.io/otel/sdk/metric, a teacher go.mod dependency
// otherwise unwired by anything in the tracing-only call sites above.
var (
	callDuration, _ = meter.Float64Histogram(
		"cromwell.call.duration",
		metric.WithDescription("Cromwell engine call latency in seconds"),
		metric.WithUnit("s"),
	)
	callErrors, _ = meter.Int64Counter(
		"cromwell.call.errors",
		metric.WithDescription("Cromwell engine call failures"),
	)
)

// instrument records callDuration/callErrors around fn, attributed by
// Cromwell operation name (submit/status/outputs/abort).
func instrument(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	attrs := metric.WithAttributes(attribute.String("cromwell.op", op))
	callDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		callErrors.Add(ctx, 1, attrs)
	}
	return err
}

// SubmitRequest carries the parts of a workflow submission (spec §6).
type SubmitRequest struct {
	WorkflowSource       string
	WorkflowDependencies []byte // zip bytes, may be nil
	WorkflowInputs       json.RawMessage
	WorkflowOptions      json.RawMessage
}

// Client talks to a single Cromwell server, wrapping every call in a
// circuit breaker (grounded on the teacher's declared sony/gobreaker
// dependency) and an OpenTelemetry span.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// Option configures a Client, matching the teacher's RunnerOption pattern.
type Option func(*Client)

// WithHTTPClient overrides the HTTP transport, for test injection.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// New constructs a Client for the given Cromwell base URL and bounded call
// timeout (spec §5 default 30s).
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cl := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "cromwell",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, o := range opts {
		o(cl)
	}
	return cl
}

// Submit posts a workflow to Cromwell's submit endpoint and returns the
// assigned job id and initial status.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "cromwell.Submit", trace.WithAttributes(
		attribute.Int("cromwell.inputs_bytes", len(req.WorkflowInputs)),
	))
	defer span.End()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := writeMultipartField(w, "workflowSource", req.WorkflowSource); err != nil {
		return SubmitResult{}, carrottypes.NewError(carrottypes.ErrCarrotInternal, "building submit request", err)
	}
	if len(req.WorkflowDependencies) > 0 {
		part, err := w.CreateFormFile("workflowDependencies", "dependencies.zip")
		if err != nil {
			return SubmitResult{}, carrottypes.NewError(carrottypes.ErrCarrotInternal, "building submit request", err)
		}
		if _, err := part.Write(req.WorkflowDependencies); err != nil {
			return SubmitResult{}, carrottypes.NewError(carrottypes.ErrCarrotInternal, "building submit request", err)
		}
	}
	if len(req.WorkflowInputs) > 0 {
		if err := writeMultipartField(w, "workflowInputs", string(req.WorkflowInputs)); err != nil {
			return SubmitResult{}, carrottypes.NewError(carrottypes.ErrCarrotInternal, "building submit request", err)
		}
	}
	if len(req.WorkflowOptions) > 0 {
		if err := writeMultipartField(w, "workflowOptions", string(req.WorkflowOptions)); err != nil {
			return SubmitResult{}, carrottypes.NewError(carrottypes.ErrCarrotInternal, "building submit request", err)
		}
	}
	if err := w.Close(); err != nil {
		return SubmitResult{}, carrottypes.NewError(carrottypes.ErrCarrotInternal, "closing multipart body", err)
	}

	var result SubmitResult
	err := instrument(ctx, "submit", func() error {
		return c.doBreaker(ctx, func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/workflows/v1", body)
			if err != nil {
				return err
			}
			httpReq.Header.Set("Content-Type", w.FormDataContentType())
			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 400 {
				b, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("submit returned status %d: %s", resp.StatusCode, string(b))
			}
			return json.NewDecoder(resp.Body).Decode(&result)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SubmitResult{}, ClassifyFailure(err)
	}
	return result, nil
}

// Status polls Cromwell for a job's current status.
func (c *Client) Status(ctx context.Context, jobID string) (StatusResult, error) {
	ctx, span := tracer.Start(ctx, "cromwell.Status", trace.WithAttributes(attribute.String("cromwell.job_id", jobID)))
	defer span.End()

	var raw struct {
		Status carrottypes.CromwellStatus `json:"status"`
	}
	err := instrument(ctx, "status", func() error {
		return c.doBreaker(ctx, func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/workflows/v1/"+jobID+"/status", nil)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 400 {
				b, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("status returned status %d: %s", resp.StatusCode, string(b))
			}
			return json.NewDecoder(resp.Body).Decode(&raw)
		})
	})
	if err != nil {
		span.RecordError(err)
		return StatusResult{}, ClassifyFailure(err)
	}
	return StatusResult{Status: raw.Status}, nil
}

// Outputs fetches the outputs map for a terminally-succeeded job.
func (c *Client) Outputs(ctx context.Context, jobID string) (OutputsResult, error) {
	ctx, span := tracer.Start(ctx, "cromwell.Outputs", trace.WithAttributes(attribute.String("cromwell.job_id", jobID)))
	defer span.End()

	var result OutputsResult
	err := instrument(ctx, "outputs", func() error {
		return c.doBreaker(ctx, func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/workflows/v1/"+jobID+"/outputs", nil)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 400 {
				b, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("outputs returned status %d: %s", resp.StatusCode, string(b))
			}
			return json.NewDecoder(resp.Body).Decode(&result)
		})
	})
	if err != nil {
		span.RecordError(err)
		return OutputsResult{}, ClassifyFailure(err)
	}
	return result, nil
}

// Abort best-effort requests termination of a running job (spec §6).
func (c *Client) Abort(ctx context.Context, jobID string) error {
	ctx, span := tracer.Start(ctx, "cromwell.Abort", trace.WithAttributes(attribute.String("cromwell.job_id", jobID)))
	defer span.End()

	err := instrument(ctx, "abort", func() error {
		return c.doBreaker(ctx, func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/workflows/v1/"+jobID+"/abort", nil)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 400 {
				b, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("abort returned status %d: %s", resp.StatusCode, string(b))
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return ClassifyFailure(err)
	}
	return nil
}

func (c *Client) doBreaker(_ context.Context, fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func writeMultipartField(w *multipart.Writer, name, value string) error {
	fw, err := w.CreateFormField(name)
	if err != nil {
		return err
	}
	_, err = fw.Write([]byte(value))
	return err
}

// ClassifyFailure categorizes an engine-call error into a carrottypes.Error,
// generalized from the teacher's internal/trigger/trigger.go ClassifyFailure
// (os.IsTimeout / "deadline exceeded" / "status 4" heuristics) from
// FailureCategory onto spec §7's ExternalTransient/ExternalPermanent kinds.
func ClassifyFailure(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if os.IsTimeout(err) || strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context deadline") {
		return carrottypes.NewError(carrottypes.ErrExternalTransient, "engine call timed out", err)
	}
	if strings.Contains(msg, "status 4") {
		return carrottypes.NewError(carrottypes.ErrExternalPermanent, "engine rejected request", err)
	}
	if strings.Contains(msg, "circuit breaker") {
		return carrottypes.NewError(carrottypes.ErrExternalTransient, "circuit breaker open", err)
	}
	return carrottypes.NewError(carrottypes.ErrExternalTransient, "engine call failed", err)
}
