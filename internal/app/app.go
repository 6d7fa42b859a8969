// Package app wires every CARROT component into one long-running process:
// the HTTP server, the status sweep, the GitHub trigger poller, and the
// watchdog/archiver background passes, sharing one store connection and one
// OpenTelemetry tracer provider. Structurally grounded on the teacher's
// internal/commands/serve.go runServe: config load, construct components,
// start background tasks, start the HTTP server in a goroutine, then block
// on os/signal for a graceful, reverse-order shutdown. The teacher's
// Redis-provider/Lambda-era dependencies (fatih/color, cmd/lambda) have no
// SPEC_FULL.md component to bind to and are not carried over — see
// DESIGN.md's dropped-dependency ledger.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/carrotsystems/carrot/internal/archiver"
	"github.com/carrotsystems/carrot/internal/buildcoordinator"
	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/github"
	"github.com/carrotsystems/carrot/internal/gitmirror"
	"github.com/carrotsystems/carrot/internal/lifecycle"
	"github.com/carrotsystems/carrot/internal/metrics"
	"github.com/carrotsystems/carrot/internal/notify"
	"github.com/carrotsystems/carrot/internal/objectstorage"
	"github.com/carrotsystems/carrot/internal/pubsub"
	"github.com/carrotsystems/carrot/internal/reporttrigger"
	"github.com/carrotsystems/carrot/internal/rungroup"
	"github.com/carrotsystems/carrot/internal/server"
	"github.com/carrotsystems/carrot/internal/statusmanager"
	"github.com/carrotsystems/carrot/internal/store/postgres"
	"github.com/carrotsystems/carrot/internal/submitter"
	"github.com/carrotsystems/carrot/internal/watchdog"
	"github.com/carrotsystems/carrot/internal/womtool"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// lifecycleComponent is the Start/Stop shape shared by every background
// task, matching the teacher's watcher/archiver/server trio.
type lifecycleComponent interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

// App owns every long-lived CARROT component and coordinates their
// startup and shutdown order.
type App struct {
	cfg    carrottypes.ProjectConfig
	logger *slog.Logger

	store      *postgres.Store
	tracerDone func(context.Context) error

	httpServer *server.Server
	background []lifecycleComponent
	poller     *pubsub.Poller
}

// New constructs every CARROT component from cfg but starts nothing.
func New(ctx context.Context, cfg carrottypes.ProjectConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := postgres.New(ctx, cfg.Database.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	tracerDone, err := initTracing(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	wdl, err := newWDLStore(cfg.WDLStorage)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init wdl store: %w", err)
	}

	engine := cromwell.New(cfg.Engine.Address, time.Duration(cfg.Engine.TimeoutSeconds)*time.Second)
	mirror := gitmirror.New()
	var buildWDL []byte
	if cfg.CustomImageBuilds.Enabled {
		buildWDL, err = wdl.FetchLocation(ctx, cfg.CustomImageBuilds.BuildWDLLocation)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("fetch build wdl: %w", err)
		}
	}
	builds := buildcoordinator.New(st, engine, mirror, string(buildWDL), logger.With("component", "buildcoordinator"))
	var validator *womtool.Validator
	if cfg.Womtool.JarLocation != "" {
		validator = womtool.New(cfg.Womtool.JarLocation)
	}
	submit := submitter.New(st, engine, builds, wdl, validator, logger.With("component", "submitter"))
	coordinator := rungroup.New(st, submit, wdl, logger.With("component", "rungroup"))

	sink, err := notify.NewSink(cfg.Email)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init notification sink: %w", err)
	}
	dispatcher := notify.New(st, sink, logger.With("component", "notify"))

	var reportTrigger *reporttrigger.Trigger
	if cfg.Reporting.Enabled {
		generatorWDL, err := wdl.FetchLocation(ctx, cfg.Reporting.GeneratorWDLLocation)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("fetch report generator wdl: %w", err)
		}
		reportTrigger = reporttrigger.New(st, engine, wdl, string(generatorWDL), cfg.Reporting, logger.With("component", "reporttrigger"))
	}

	onAdvance := func(ctx context.Context, run carrottypes.Run, newStatus carrottypes.RunStatus) {
		switch newStatus {
		case carrottypes.RunEvalSubmitted:
			if err := submit.SubmitEval(ctx, run); err != nil {
				logger.Error("eval submission failed", "run_id", run.RunID, "error", err)
			}
			return
		case carrottypes.RunSucceeded:
			if err := submit.CollectResults(ctx, run); err != nil {
				logger.Error("result collection failed", "run_id", run.RunID, "error", err)
			}
		}
		if !lifecycle.IsTerminal(newStatus) {
			return
		}
		run.Status = newStatus
		if reportTrigger != nil {
			if err := reportTrigger.OnRunTerminal(ctx, run); err != nil {
				metrics.ReportsFailed.Add(1)
				logger.Error("report trigger failed", "run_id", run.RunID, "error", err)
			}
		}
		if err := dispatcher.OnRunTerminal(ctx, run); err != nil {
			metrics.NotificationsFailed.Add(1)
			logger.Error("notification dispatch failed", "run_id", run.RunID, "error", err)
		}
	}
	onRetrySubmit := func(ctx context.Context, run carrottypes.Run) error {
		return submit.SubmitTest(ctx, run)
	}
	statusMgr := statusmanager.New(st, engine, onAdvance, onRetrySubmit, logger.With("component", "statusmanager"), cfg.StatusManager)

	alertFn := watchdog.AlertFunc(func(ctx context.Context, stuck watchdog.StuckRun) {
		metrics.RunsStuck.Add(1)
		logger.Warn("run stuck", "run_id", stuck.RunID, "status", stuck.Status, "age", stuck.Age)
	})
	wd, err := watchdog.New(st, cfg.Watchdog, alertFn, logger.With("component", "watchdog"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init watchdog: %w", err)
	}

	arc, err := archiver.New(st, cfg.Archiver, logger.With("component", "archiver"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init archiver: %w", err)
	}

	httpServer := server.New(
		fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		st, engine, submit, builds, wdl, cfg.API.APIKey,
	)

	app := &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		tracerDone: tracerDone,
		httpServer: httpServer,
		background: []lifecycleComponent{statusMgr, wd, arc},
	}

	if cfg.GitHub.Enabled {
		gh := github.New(cfg.GitHub.APIToken)
		handler := pubsub.Handler(func(ctx context.Context, msg carrottypes.GitHubPubsubMessage) error {
			if err := coordinator.HandleMessage(ctx, msg); err != nil {
				return err
			}
			if msg.Owner != "" && msg.Repo != "" && msg.IssueNumber != 0 {
				body := fmt.Sprintf("CARROT started run(s) for %s at commit %s.", msg.TestName, msg.HeadCommit)
				if err := gh.PostComment(ctx, msg.Owner, msg.Repo, msg.IssueNumber, body); err != nil {
					logger.Error("failed to post github comment", "owner", msg.Owner, "repo", msg.Repo, "issue", msg.IssueNumber, "error", err)
					return nil
				}
				metrics.RunGroupCommentsSent.Add(1)
			}
			return nil
		})

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load aws config for sqs: %w", err)
		}
		sqsClient := sqs.NewFromConfig(awsCfg)
		app.poller = pubsub.New(sqsClient, handler, logger.With("component", "pubsub"), cfg.GitHub)
		app.background = append(app.background, app.poller)
	}

	return app, nil
}

// Run starts every background component and the HTTP server, then blocks
// until SIGINT/SIGTERM, at which point it shuts everything down in reverse
// start order within a 10-second grace window (matching the teacher's
// runServe shutdown budget).
func (a *App) Run(ctx context.Context) error {
	for _, c := range a.background {
		c.Start(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server", "addr", fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port))
		serveErr <- a.httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-sigCh:
		a.logger.Info("received signal, shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Stop(shutdownCtx)
	}
}

// Stop shuts down every component in reverse start order: HTTP server
// first (stop accepting new work), then background tasks, then the store
// and tracer last.
func (a *App) Stop(ctx context.Context) error {
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
	for i := len(a.background) - 1; i >= 0; i-- {
		a.background[i].Stop(ctx)
	}
	if a.tracerDone != nil {
		if err := a.tracerDone(ctx); err != nil {
			a.logger.Error("tracer shutdown error", "error", err)
		}
	}
	a.store.Close()
	a.logger.Info("shutdown complete")
	return nil
}

func newWDLStore(cfg carrottypes.WDLStorageConfig) (*objectstorage.Store, error) {
	if cfg.LocalDirectory != "" {
		return objectstorage.NewLocalStore(cfg.LocalDirectory)
	}
	return objectstorage.NewS3Store(cfg.ObjectStorePrefix, "")
}

// initTracing configures the process-wide OpenTelemetry tracer provider
// (SPEC_FULL §10), exporting spans via OTLP/gRPC. Returns a shutdown func
// that flushes and closes the exporter.
func initTracing(ctx context.Context, cfg carrottypes.ProjectConfig) (func(context.Context) error, error) {
	exp, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "carrot"),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
