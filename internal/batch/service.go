// Package batch serves render requests arriving over the bus.
package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/davidkant/rpp/internal/bus"
	"github.com/davidkant/rpp/internal/config"
	"github.com/davidkant/rpp/internal/eventstore"
	"github.com/davidkant/rpp/internal/hook"
	"github.com/davidkant/rpp/internal/protocol"
	"github.com/davidkant/rpp/internal/render"
	"github.com/davidkant/rpp/internal/sample"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Renderer renders a batch with a barrier between groups.
type Renderer interface {
	BatchRender(ctx context.Context, samples []*sample.Sample, batchSize int, onDone func(index int, res render.Result)) ([]render.Result, error)
}

type Service struct {
	cfg       config.BatchConfig
	batchSize int
	bus       *bus.Client
	renderer  Renderer
	journal   *eventstore.Store
	hook      *hook.Runner
	sub       *nats.Subscription
	sem       chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewService wires the service. batchSize is used when a request does not
// set its own; journal and hooks may be nil.
func NewService(parent context.Context, cfg config.BatchConfig, batchSize int, busClient *bus.Client, renderer Renderer, journal *eventstore.Store, hooks *hook.Runner, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		cfg:       cfg,
		batchSize: batchSize,
		bus:       busClient,
		renderer:  renderer,
		journal:   journal,
		hook:      hooks,
		sem:       make(chan struct{}, concurrency),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(slog.String("component", "batch-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectRenderRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.RenderRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode render request", slogError(err))
		return
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.batchSize
	}
	if msg.Reply != "" {
		if data, err := json.Marshal(protocol.RenderAccepted{BatchID: req.BatchID, Total: len(req.Samples)}); err == nil {
			if err := msg.Respond(data); err != nil {
				s.logger.Warn("failed to acknowledge render request", slogError(err))
			}
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.ctx.Done():
			return
		}
		s.run(req)
	}()
}

func (s *Service) run(req protocol.RenderRequest) {
	log := s.logger.With(slog.String("batch_id", req.BatchID))
	if err := s.journal.AppendBatch(s.ctx, req.BatchID, len(req.Samples), "bus"); err != nil {
		log.Warn("failed to journal batch", slogError(err))
	}

	samples := make([]*sample.Sample, len(req.Samples))
	for i := range req.Samples {
		samples[i] = &req.Samples[i]
	}

	log.Info("rendering batch", slog.Int("samples", len(samples)), slog.Int("batch_size", req.BatchSize))
	ctx := render.WithBatchID(s.ctx, req.BatchID)
	results, err := s.renderer.BatchRender(ctx, samples, req.BatchSize, func(index int, res render.Result) {
		s.publishStatus(req.BatchID, index, res)
		if err := s.hook.Run(s.ctx, res); err != nil {
			log.Warn("on-complete hook failed", slog.String("render_id", res.RenderID), slogError(err))
		}
	})

	status := protocol.BatchStatus{
		BatchID:   req.BatchID,
		Total:     len(samples),
		Timestamp: time.Now().UTC(),
	}
	for i, res := range results {
		if res.Err != nil || res.Completed.IsZero() {
			status.Failed++
		}
		// renders that failed to launch never reach onDone
		if res.Err != nil && res.Completed.IsZero() {
			s.publishStatus(req.BatchID, i, res)
		}
	}
	if err != nil {
		status.Error = err.Error()
		log.Warn("batch render failed", slogError(err))
	} else {
		log.Info("batch complete", slog.Int("failed", status.Failed))
	}
	s.publish(protocol.SubjectBatchDone, status)
}

func (s *Service) publishStatus(batchID string, index int, res render.Result) {
	status := protocol.RenderStatus{
		BatchID:   batchID,
		RenderID:  res.RenderID,
		Index:     index,
		Filename:  res.Sample.RenderParams.WavName(),
		Folder:    res.Sample.RenderParams.Folder,
		Completed: res.Err == nil,
		ElapsedMS: res.Elapsed().Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}
	s.publish(protocol.SubjectRenderDone, status)
}

func (s *Service) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal status", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish status", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
