// Package render drives the engine through the control sequence of a
// render and correlates its asynchronous completion.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davidkant/rpp/internal/config"
	rpperrors "github.com/davidkant/rpp/internal/errors"
	"github.com/davidkant/rpp/internal/eventstore"
	"github.com/davidkant/rpp/internal/params"
	"github.com/davidkant/rpp/internal/protocol"
	"github.com/davidkant/rpp/internal/sample"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Sender is the control channel to the engine.
type Sender interface {
	Send(ctx context.Context, address string, args ...any) error
}

// Orchestrator sequences renders against one engine. It is safe for
// concurrent use; a single sequence is sent on the caller's goroutine.
type Orchestrator struct {
	sender   Sender
	registry *Registry
	ids      *IDGenerator
	delays   Delays
	timeout  time.Duration
	writeCSV bool
	journal  *eventstore.Store
	metrics  *metrics
	log      *slog.Logger
	clock    func() time.Time
	wg       sync.WaitGroup
}

// New builds an orchestrator. journal may be nil.
func New(cfg config.RenderConfig, sender Sender, journal *eventstore.Store, log *slog.Logger) *Orchestrator {
	log = log.With(slog.String("component", "render"))
	registry := NewRegistry(log)
	return &Orchestrator{
		sender:   sender,
		registry: registry,
		ids:      NewIDGenerator(time.Now),
		delays:   DelaysFromConfig(cfg),
		timeout:  time.Duration(cfg.CompletionTimeoutMS) * time.Millisecond,
		writeCSV: cfg.WriteCSV,
		journal:  journal,
		metrics:  newMetrics(registry, log),
		log:      log,
		clock:    time.Now,
	}
}

// Registry is where the engine listener delivers completions.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Render configures the engine for s and triggers a render. It returns once
// the trigger has been sent; the ticket resolves on completion. The sample's
// render id is overwritten.
func (o *Orchestrator) Render(ctx context.Context, s *sample.Sample) (*Ticket, error) {
	return o.render(ctx, s, nil)
}

// RenderAndDo is Render with a continuation run on its own goroutine when
// the render resolves.
func (o *Orchestrator) RenderAndDo(ctx context.Context, s *sample.Sample, then func(Result)) (*Ticket, error) {
	return o.render(ctx, s, then)
}

// Wait blocks until the journal writes and continuations of resolved
// renders have returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) render(ctx context.Context, s *sample.Sample, then func(Result)) (*Ticket, error) {
	if s == nil {
		return nil, errors.New("render: nil sample")
	}
	id := o.ids.Next()
	s.RenderParams.RenderID = id
	batchID := BatchID(ctx)

	ctx, span := otel.Tracer(instrumentation).Start(ctx, "render")
	defer span.End()
	span.SetAttributes(
		attribute.String("rpp.render_id", id),
		attribute.String("rpp.batch_id", batchID),
		attribute.String("rpp.filename", s.RenderParams.WavName()),
	)

	t := newTicket(id, *s, o.clock())
	t.setState(StateConfiguring)
	o.record(ctx, batchID, id, eventstore.TypeRenderRequested, journalEntry{
		Filename: s.RenderParams.WavName(),
		Folder:   s.RenderParams.Folder,
		Duration: s.RenderParams.Duration,
	})

	if err := o.configure(ctx, *s); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, o.abort(ctx, t, batchID, err)
	}

	// The handler must be in place before the trigger; a fast engine can
	// answer before Send returns.
	if err := o.registry.Register(id, func(args []any) { o.complete(ctx, t, batchID, args, then) }); err != nil {
		return nil, o.abort(ctx, t, batchID, err)
	}
	if err := o.sender.Send(ctx, protocol.AddrRenderStatic); err != nil {
		o.registry.Remove(id)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, o.abort(ctx, t, batchID, err)
	}
	t.state.CompareAndSwap(int32(StateConfiguring), int32(StateAwaitingCompletion))
	add(ctx, o.metrics.started)
	o.log.Info("requesting render",
		slog.String("render_id", id),
		slog.String("filename", s.RenderParams.WavName()),
		slog.String("folder", s.RenderParams.Folder),
	)

	if o.timeout > 0 {
		time.AfterFunc(o.timeout, func() {
			if o.registry.Remove(id) {
				o.expire(ctx, t, batchID, then)
			}
		})
	}

	// The trigger is out; cancellation only shortens the pause.
	_ = sleep(ctx, o.delays.Render)

	if o.writeCSV {
		o.writeArtifacts(ctx, *s)
	}
	return t, nil
}

type step struct {
	address string
	args    []any
	pause   time.Duration
}

// configure sends everything up to, not including, the render trigger.
func (o *Orchestrator) configure(ctx context.Context, s sample.Sample) error {
	rp := s.RenderParams
	steps := []step{
		{protocol.AddrNew, nil, o.delays.New},
		{protocol.AddrRenderFolder, []any{rp.Folder}, 0},
		{protocol.AddrRenderFilename, []any{rp.WavName()}, 0},
		{protocol.AddrRenderDuration, []any{float32(rp.Duration)}, 0},
		{protocol.AddrRenderWait, []any{float32(rp.Wait)}, 0},
		{protocol.AddrRenderID, []any{rp.RenderID}, 0},
		{protocol.AddrTopologyDefaultParams, nil, o.delays.Config},
	}
	for i, voice := range s.SynthParams {
		var pause time.Duration
		if i == params.NumVoices-1 {
			pause = o.delays.Params
		}
		steps = append(steps, step{protocol.AddrTopologyParams, voiceArgs(i, voice), pause})
	}
	steps = append(steps, step{protocol.AddrTopologyCurrentParams, nil, o.delays.Topology})

	for _, st := range steps {
		if err := o.sender.Send(ctx, st.address, st.args...); err != nil {
			return err
		}
		if err := sleep(ctx, st.pause); err != nil {
			return err
		}
	}
	return nil
}

// voiceArgs is the /topology/params payload: voice index then the 24
// values as 32-bit floats.
func voiceArgs(index int, voice params.FeedbackParams) []any {
	values := voice.FlatList()
	args := make([]any, 0, len(values)+1)
	args = append(args, int32(index))
	for _, v := range values {
		args = append(args, float32(v))
	}
	return args
}

func (o *Orchestrator) abort(ctx context.Context, t *Ticket, batchID string, err error) error {
	t.resolve(o.clock(), err)
	add(ctx, o.metrics.failed)
	o.record(ctx, batchID, t.id, eventstore.TypeRenderFailed, journalEntry{Error: err.Error()})
	o.log.Warn("render aborted", slog.String("render_id", t.id), slogError(err))
	return fmt.Errorf("render %s: %w", t.id, err)
}

func (o *Orchestrator) complete(ctx context.Context, t *Ticket, batchID string, args []any, then func(Result)) {
	if !t.resolve(o.clock(), nil) {
		return
	}
	res := t.Result()
	add(ctx, o.metrics.completed)
	o.metrics.observeLatency(ctx, res.Elapsed())
	o.log.Info("render complete",
		slog.String("render_id", t.id),
		slog.Duration("elapsed", res.Elapsed()),
	)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.record(ctx, batchID, t.id, eventstore.TypeRenderCompleted, journalEntry{
			ElapsedMS: res.Elapsed().Milliseconds(),
			Args:      args,
		})
		if then != nil {
			then(res)
		}
	}()
}

func (o *Orchestrator) expire(ctx context.Context, t *Ticket, batchID string, then func(Result)) {
	err := fmt.Errorf("render %s: no completion after %s: %w", t.id, o.timeout, rpperrors.ErrTimeout)
	if !t.resolve(o.clock(), err) {
		return
	}
	add(ctx, o.metrics.timeouts)
	o.log.Warn("render timed out", slog.String("render_id", t.id), slog.Duration("timeout", o.timeout))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.record(ctx, batchID, t.id, eventstore.TypeRenderTimeout, journalEntry{Error: err.Error()})
		if then != nil {
			then(t.Result())
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
