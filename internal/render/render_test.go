package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davidkant/rpp/internal/config"
	rpperrors "github.com/davidkant/rpp/internal/errors"
	"github.com/davidkant/rpp/internal/eventstore"
	"github.com/davidkant/rpp/internal/params"
	"github.com/davidkant/rpp/internal/protocol"
	"github.com/davidkant/rpp/internal/sample"
)

type sent struct {
	address string
	args    []any
}

// fakeEngine records every message. With autoComplete set it answers each
// trigger from another goroutine, like the real engine does over UDP.
type fakeEngine struct {
	mu            sync.Mutex
	sent          []sent
	events        []string
	failOn        string
	failTrigger   int
	triggers      int
	currentID     string
	autoComplete  *Registry
	completeDelay time.Duration
}

func (f *fakeEngine) Send(ctx context.Context, address string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if address == f.failOn {
		return rpperrors.NewTransportError(address, errors.New("connection refused"))
	}
	if address == protocol.AddrRenderStatic {
		f.triggers++
		if f.triggers == f.failTrigger {
			return rpperrors.NewTransportError(address, errors.New("connection refused"))
		}
	}
	f.sent = append(f.sent, sent{address: address, args: args})
	if address == protocol.AddrRenderID {
		f.currentID = args[0].(string)
	}
	if address == protocol.AddrRenderStatic && f.autoComplete != nil {
		id := f.currentID
		f.events = append(f.events, "trigger")
		go func() {
			time.Sleep(f.completeDelay)
			f.mu.Lock()
			f.events = append(f.events, "complete")
			f.mu.Unlock()
			f.autoComplete.Dispatch(protocol.CompletionAddress(id), []any{int32(1)})
		}()
	}
	return nil
}

func (f *fakeEngine) addresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.address
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSample(t *testing.T, filename string) *sample.Sample {
	t.Helper()
	synth := params.DefaultQuad(nil)
	if err := synth[2].Set("koscR", 3.5); err != nil {
		t.Fatal(err)
	}
	rp := sample.DefaultRenderParams()
	rp.Folder = t.TempDir()
	rp.Filename = filename
	s := sample.New(sample.TopologyFeedbackQuad, rp, synth)
	return &s
}

func TestRenderSendsControlSequence(t *testing.T) {
	engine := &fakeEngine{}
	orch := New(config.RenderConfig{WriteCSV: true}, engine, nil, discardLogger())
	s := newSample(t, "take")

	ticket, err := orch.Render(context.Background(), s)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if s.RenderParams.RenderID != ticket.RenderID() || s.RenderParams.RenderID == "00" {
		t.Fatalf("render id not assigned: %s", s.RenderParams.RenderID)
	}

	want := []string{
		protocol.AddrNew,
		protocol.AddrRenderFolder,
		protocol.AddrRenderFilename,
		protocol.AddrRenderDuration,
		protocol.AddrRenderWait,
		protocol.AddrRenderID,
		protocol.AddrTopologyDefaultParams,
		protocol.AddrTopologyParams,
		protocol.AddrTopologyParams,
		protocol.AddrTopologyParams,
		protocol.AddrTopologyParams,
		protocol.AddrTopologyCurrentParams,
		protocol.AddrRenderStatic,
	}
	got := engine.addresses()
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected sequence:\n got %v\nwant %v", got, want)
	}

	msgs := engine.sent
	if msgs[2].args[0] != "take.wav" {
		t.Fatalf("expected .wav filename, got %v", msgs[2].args)
	}
	if msgs[3].args[0] != float32(20) || msgs[4].args[0] != float32(0) {
		t.Fatalf("expected float32 duration and wait, got %v %v", msgs[3].args, msgs[4].args)
	}
	if msgs[5].args[0] != ticket.RenderID() {
		t.Fatalf("expected render id arg, got %v", msgs[5].args)
	}
	for voice := 0; voice < params.NumVoices; voice++ {
		args := msgs[7+voice].args
		if len(args) != 1+params.NumFields {
			t.Fatalf("voice %d: expected %d args, got %d", voice, 1+params.NumFields, len(args))
		}
		if args[0] != int32(voice) {
			t.Fatalf("voice %d: expected int32 index first, got %#v", voice, args[0])
		}
	}
	fallback := 18.6
	if msgs[9].args[1] != float32(3.5) || msgs[7].args[1] != float32(fallback) {
		t.Fatalf("unexpected koscR payloads %v %v", msgs[7].args[1], msgs[9].args[1])
	}

	if ticket.State() != StateAwaitingCompletion {
		t.Fatalf("expected awaiting completion, got %s", ticket.State())
	}
	if orch.Registry().Len() != 1 {
		t.Fatalf("expected one pending handler")
	}

	display, data := s.RenderParams.CSVPaths()
	if _, err := os.Stat(display); err != nil {
		t.Fatalf("display csv missing: %v", err)
	}
	f, err := os.Open(data)
	if err != nil {
		t.Fatalf("data csv missing: %v", err)
	}
	defer f.Close()
	reloaded, err := params.ReadDataCSV(f)
	if err != nil {
		t.Fatalf("reload data csv: %v", err)
	}
	if reloaded != s.SynthParams {
		t.Fatalf("data csv does not match synth params")
	}

	orch.Registry().Dispatch(protocol.CompletionAddress(ticket.RenderID()), nil)
	res, err := ticket.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.RenderID != ticket.RenderID() || res.Completed.IsZero() {
		t.Fatalf("unexpected result %+v", res)
	}
	if ticket.State() != StateDone {
		t.Fatalf("expected done, got %s", ticket.State())
	}
	if orch.Registry().Len() != 0 {
		t.Fatalf("handler not removed after completion")
	}
}

func TestCompletionFiresOnce(t *testing.T) {
	engine := &fakeEngine{}
	orch := New(config.RenderConfig{}, engine, nil, discardLogger())

	var calls int
	var mu sync.Mutex
	ticket, err := orch.RenderAndDo(context.Background(), newSample(t, "once"), func(Result) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	addr := protocol.CompletionAddress(ticket.RenderID())
	orch.Registry().Dispatch(addr, nil)
	orch.Registry().Dispatch(addr, nil)
	<-ticket.Done()
	orch.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected continuation once, got %d", calls)
	}
}

func TestRenderIDsUnique(t *testing.T) {
	frozen := time.Unix(1700000000, 0)
	gen := NewIDGenerator(func() time.Time { return frozen })
	seen := map[string]bool{}
	var last int64
	for i := 0; i < 100; i++ {
		id := gen.Next()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			t.Fatal(err)
		}
		if n <= last {
			t.Fatalf("ids not increasing: %d after %d", n, last)
		}
		last = n
	}

	engine := &fakeEngine{}
	orch := New(config.RenderConfig{}, engine, nil, discardLogger())
	a, _ := orch.Render(context.Background(), newSample(t, "a"))
	b, _ := orch.Render(context.Background(), newSample(t, "b"))
	if a.RenderID() == b.RenderID() {
		t.Fatalf("expected distinct render ids")
	}
}

func TestTransportFailureLeavesNoHandler(t *testing.T) {
	for _, failOn := range []string{protocol.AddrTopologyParams, protocol.AddrRenderStatic} {
		engine := &fakeEngine{failOn: failOn}
		orch := New(config.RenderConfig{WriteCSV: true}, engine, nil, discardLogger())
		s := newSample(t, "broken")

		ticket, err := orch.Render(context.Background(), s)
		if !errors.Is(err, rpperrors.ErrTransport) {
			t.Fatalf("%s: expected transport error, got %v", failOn, err)
		}
		var te *rpperrors.TransportError
		if !errors.As(err, &te) || te.Address != failOn {
			t.Fatalf("%s: expected transport error for address, got %v", failOn, err)
		}
		if ticket != nil {
			t.Fatalf("%s: expected no ticket", failOn)
		}
		if orch.Registry().Len() != 0 {
			t.Fatalf("%s: handler left registered", failOn)
		}
		display, _ := s.RenderParams.CSVPaths()
		if _, err := os.Stat(display); !os.IsNotExist(err) {
			t.Fatalf("%s: artifacts written for failed render", failOn)
		}
	}
}

func TestContextCancelDuringConfigure(t *testing.T) {
	engine := &fakeEngine{}
	orch := New(config.RenderConfig{NewDelayMS: 5000}, engine, nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := orch.Render(ctx, newSample(t, "cancelled"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("delay not interrupted by context")
	}
	if got := engine.addresses(); len(got) != 1 || got[0] != protocol.AddrNew {
		t.Fatalf("expected only /new sent, got %v", got)
	}
	if orch.Registry().Len() != 0 {
		t.Fatalf("handler left registered")
	}
}

func TestCompletionTimeout(t *testing.T) {
	engine := &fakeEngine{}
	orch := New(config.RenderConfig{CompletionTimeoutMS: 20}, engine, nil, discardLogger())

	done := make(chan Result, 1)
	ticket, err := orch.RenderAndDo(context.Background(), newSample(t, "slow"), func(res Result) { done <- res })
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	select {
	case res := <-done:
		if !errors.Is(res.Err, rpperrors.ErrTimeout) {
			t.Fatalf("expected timeout, got %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
	if _, err := ticket.Wait(context.Background()); !errors.Is(err, rpperrors.ErrTimeout) {
		t.Fatalf("expected ticket timeout, got %v", err)
	}
	if orch.Registry().Len() != 0 {
		t.Fatalf("handler left registered after timeout")
	}
	// a late completion is ignored
	orch.Registry().Dispatch(protocol.CompletionAddress(ticket.RenderID()), nil)
}

func TestGroups(t *testing.T) {
	got := Groups(5, 2)
	want := [][2]int{{0, 2}, {2, 4}, {4, 5}}
	if len(got) != len(want) {
		t.Fatalf("unexpected groups %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected groups %v", got)
		}
	}
	if Groups(0, 8) != nil || Groups(3, 0) != nil {
		t.Fatalf("expected no groups for empty input")
	}
	if g := Groups(3, 8); len(g) != 1 || g[0] != [2]int{0, 3} {
		t.Fatalf("unexpected single group %v", g)
	}
}

func TestBatchRenderBarrier(t *testing.T) {
	engine := &fakeEngine{completeDelay: 10 * time.Millisecond}
	orch := New(config.RenderConfig{}, engine, nil, discardLogger())
	engine.autoComplete = orch.Registry()

	samples := make([]*sample.Sample, 5)
	for i := range samples {
		samples[i] = newSample(t, "batch"+strconv.Itoa(i))
	}

	var mu sync.Mutex
	var seen []int
	results, err := orch.BatchRender(context.Background(), samples, 2, func(index int, res Result) {
		mu.Lock()
		seen = append(seen, index)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("batch render: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Err != nil || res.Completed.IsZero() {
			t.Fatalf("result %d not completed: %+v", i, res)
		}
		if res.RenderID != samples[i].RenderParams.RenderID {
			t.Fatalf("result %d out of order", i)
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 callbacks, got %d", len(seen))
	}

	// Trigger k belongs to group k/2; every earlier group must have
	// completed before it was sent.
	engine.mu.Lock()
	defer engine.mu.Unlock()
	triggers, completions := 0, 0
	for _, evt := range engine.events {
		switch evt {
		case "trigger":
			groupStart := (triggers / 2) * 2
			if completions < groupStart {
				t.Fatalf("trigger %d sent with only %d completions: %v", triggers, completions, engine.events)
			}
			triggers++
		case "complete":
			completions++
		}
	}
	if triggers != 5 || completions != 5 {
		t.Fatalf("unexpected event counts %v", engine.events)
	}
}

func TestBatchRenderStopsOnTransportError(t *testing.T) {
	engine := &fakeEngine{failTrigger: 2, completeDelay: 10 * time.Millisecond}
	orch := New(config.RenderConfig{}, engine, nil, discardLogger())
	engine.autoComplete = orch.Registry()

	samples := make([]*sample.Sample, 5)
	for i := range samples {
		samples[i] = newSample(t, "fail"+strconv.Itoa(i))
	}
	results, err := orch.BatchRender(context.Background(), samples, 2, nil)
	if !errors.Is(err, rpperrors.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if results[0].Err != nil || results[0].Completed.IsZero() {
		t.Fatalf("started render should have been waited for: %+v", results[0])
	}
	if !errors.Is(results[1].Err, rpperrors.ErrTransport) {
		t.Fatalf("expected failed result, got %+v", results[1])
	}
	if results[2].RenderID != "" {
		t.Fatalf("later groups should not launch")
	}
	if orch.Registry().Len() != 0 {
		t.Fatalf("handlers left registered")
	}
}

func TestBatchRenderContextCancel(t *testing.T) {
	engine := &fakeEngine{}
	orch := New(config.RenderConfig{}, engine, nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := orch.BatchRender(ctx, []*sample.Sample{newSample(t, "never")}, 8, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, err := orch.BatchRender(context.Background(), nil, 0, nil); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	store, err := eventstore.Open(ctx, config.EventStoreConfig{Enabled: true, Path: t.TempDir() + "/events.db"}, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	engine := &fakeEngine{}
	orch := New(config.RenderConfig{}, engine, store, discardLogger())

	ticket, err := orch.Render(WithBatchID(ctx, "batch-7"), newSample(t, "journaled"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	orch.Registry().Dispatch(protocol.CompletionAddress(ticket.RenderID()), nil)
	<-ticket.Done()
	orch.Wait()

	events, err := store.ListBatchEvents(ctx, "batch-7", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || events[0].Type != eventstore.TypeRenderRequested || events[1].Type != eventstore.TypeRenderCompleted {
		t.Fatalf("unexpected journal %+v", events)
	}
	if events[0].RenderID != ticket.RenderID() {
		t.Fatalf("journal render id mismatch")
	}

	engine.failOn = protocol.AddrNew
	if _, err := orch.Render(ctx, newSample(t, "unbatched")); err == nil {
		t.Fatal("expected failure")
	}
	// unbatched renders are journaled under their own id
	all, err := store.ListBatchEvents(ctx, "batch-7", 10)
	if err != nil || len(all) != 2 {
		t.Fatalf("batch journal changed: %v %v", all, err)
	}
}
