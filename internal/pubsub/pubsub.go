// Package pubsub ingests GitHub trigger messages from an SQS queue (spec
// §4.5/§6), handing each decoded message to a caller-supplied handler and
// deleting it from the queue only once the handler returns successfully —
// so a crash between receive and handle redelivers the message rather than
// losing it. Structurally grounded on the teacher's
// internal/watcher/watcher.go Start/Stop/ticker/immediate-first-pass
// scaffolding, applied to SQS ReceiveMessage/DeleteMessage instead of
// provider.ListPipelines.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// SQSAPI is the subset of the SQS client used by Poller.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one decoded GitHub pubsub message.
type Handler func(ctx context.Context, msg carrottypes.GitHubPubsubMessage) error

// Poller periodically drains an SQS queue of GitHub trigger messages.
type Poller struct {
	client   SQSAPI
	queueURL string
	handler  Handler
	logger   *slog.Logger
	config   carrottypes.GitHubConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Poller.
func New(client SQSAPI, handler Handler, logger *slog.Logger, cfg carrottypes.GitHubConfig) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PubsubMaxMessagesPer <= 0 {
		cfg.PubsubMaxMessagesPer = 10
	}
	if cfg.PubsubWaitTimeInSecs <= 0 {
		cfg.PubsubWaitTimeInSecs = 60
	}
	return &Poller{client: client, queueURL: cfg.QueueURL, handler: handler, logger: logger, config: cfg}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	interval := time.Duration(p.config.PubsubWaitTimeInSecs) * time.Second

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.logger.Info("github pubsub poller started", "queue", p.queueURL, "interval", interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p.poll(ctx)

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("github pubsub poller stopping")
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("github pubsub poller stopped")
	case <-ctx.Done():
		p.logger.Warn("github pubsub poller stop timed out")
	}
}

func (p *Poller) poll(ctx context.Context) {
	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.queueURL),
		MaxNumberOfMessages: int32(p.config.PubsubMaxMessagesPer),
		WaitTimeSeconds:     0,
	})
	if err != nil {
		p.logger.Error("failed to receive github pubsub messages", "error", err)
		return
	}

	for _, m := range out.Messages {
		if ctx.Err() != nil {
			return
		}
		if err := p.handleOne(ctx, m); err != nil {
			p.logger.Error("failed to handle github pubsub message", "error", err)
			continue
		}
		_, err := p.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(p.queueURL),
			ReceiptHandle: m.ReceiptHandle,
		})
		if err != nil {
			p.logger.Error("failed to delete handled github pubsub message", "error", err)
		}
	}
}

func (p *Poller) handleOne(ctx context.Context, m sqstypes.Message) error {
	var msg carrottypes.GitHubPubsubMessage
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return p.handler(ctx, msg)
}
