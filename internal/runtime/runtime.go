package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davidkant/rpp/internal/batch"
	"github.com/davidkant/rpp/internal/bus"
	"github.com/davidkant/rpp/internal/config"
	"github.com/davidkant/rpp/internal/engine"
	"github.com/davidkant/rpp/internal/eventstore"
	"github.com/davidkant/rpp/internal/hook"
	"github.com/davidkant/rpp/internal/natsserver"
	"github.com/davidkant/rpp/internal/protocol"
	"github.com/davidkant/rpp/internal/render"
)

const (
	statusStream    = "RPP_STATUS"
	statusRetention = 24 * time.Hour
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	metrics     http.Handler
	journal     *eventstore.Store
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	listener    *engine.Listener
	orch        *render.Orchestrator
	batch       *batch.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires the daemon and blocks until ctx is canceled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.teardown()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler

	if err := r.startRendering(ctx); err != nil {
		return err
	}
	if err := r.startBatchService(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", fmt.Sprintf("%s:%d", r.cfg.Engine.Host, r.cfg.Engine.Port)),
		slog.String("listen", r.listener.LocalAddr().String()),
	)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startRendering(ctx context.Context) error {
	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.journal = journal
	if err := journal.Prune(ctx); err != nil {
		r.logger.Warn("failed to prune event store", slogError(err))
	}

	client, err := engine.Dial(r.cfg.Engine, r.logger)
	if err != nil {
		return fmt.Errorf("dial engine: %w", err)
	}
	r.orch = render.New(r.cfg.Render, client, journal, r.logger)

	listener, err := engine.Listen(r.cfg.Engine, r.orch.Registry(), r.logger)
	if err != nil {
		return fmt.Errorf("listen for completions: %w", err)
	}
	r.listener = listener
	return nil
}

func (r *Runtime) startBatchService(ctx context.Context) error {
	if !r.cfg.Batch.Enabled {
		return nil
	}

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return err
	}
	r.nats = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	if err := client.EnsureStream(statusStream, []string{protocol.SubjectRenderDone, protocol.SubjectBatchDone}, statusRetention); err != nil {
		r.logger.Warn("status stream unavailable", slogError(err))
	}

	hooks, err := hook.New(r.cfg.Hooks, r.logger)
	if err != nil {
		return fmt.Errorf("configure hooks: %w", err)
	}

	r.batch = batch.NewService(ctx, r.cfg.Batch, r.cfg.Render.BatchSize, client, r.orch, r.journal, hooks, r.logger)
	if err := r.batch.Start(); err != nil {
		return fmt.Errorf("start batch service: %w", err)
	}
	return nil
}

// teardown stops whatever Start managed to bring up, in reverse order.
func (r *Runtime) teardown() {
	if r.batch != nil {
		r.batch.Close()
	}
	if r.orch != nil {
		r.orch.Wait()
	}
	if err := r.listener.Close(); err != nil {
		r.logger.Warn("listener close error", slogError(err))
	}
	r.bus.Close()
	r.nats.Shutdown()
	if err := r.journal.Close(); err != nil {
		r.logger.Warn("event store close error", slogError(err))
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() {
		return false
	}
	if r.batch != nil && !r.batch.Healthy() {
		return false
	}
	return r.bus == nil || r.bus.Healthy()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
