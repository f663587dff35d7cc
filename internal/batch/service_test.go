package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/davidkant/rpp/internal/bus"
	"github.com/davidkant/rpp/internal/config"
	rpperrors "github.com/davidkant/rpp/internal/errors"
	"github.com/davidkant/rpp/internal/natsserver"
	"github.com/davidkant/rpp/internal/protocol"
	"github.com/davidkant/rpp/internal/render"
	"github.com/davidkant/rpp/internal/sample"
	"github.com/nats-io/nats.go"
)

type fakeRenderer struct {
	mu        sync.Mutex
	batchIDs  []string
	sizes     []int
	failIndex int
}

func (f *fakeRenderer) BatchRender(ctx context.Context, samples []*sample.Sample, batchSize int, onDone func(int, render.Result)) ([]render.Result, error) {
	f.mu.Lock()
	f.batchIDs = append(f.batchIDs, render.BatchID(ctx))
	f.sizes = append(f.sizes, batchSize)
	f.mu.Unlock()

	results := make([]render.Result, len(samples))
	for i, s := range samples {
		s.RenderParams.RenderID = "r" + string(rune('0'+i))
		now := time.Now()
		res := render.Result{RenderID: s.RenderParams.RenderID, Sample: *s, Requested: now}
		if i == f.failIndex {
			res.Err = rpperrors.NewTransportError(protocol.AddrRenderStatic, errors.New("down"))
			results[i] = res
			return results, res.Err
		}
		res.Completed = now.Add(time.Millisecond)
		results[i] = res
		onDone(i, res)
	}
	return results, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, discardLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, discardLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func request(t *testing.T, client *bus.Client, req protocol.RenderRequest) protocol.RenderAccepted {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	reply, err := client.Conn().Request(protocol.SubjectRenderRequest, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var ack protocol.RenderAccepted
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		t.Fatal(err)
	}
	return ack
}

func TestServiceRendersBatch(t *testing.T) {
	client := startBus(t)
	renderer := &fakeRenderer{failIndex: -1}
	svc := NewService(context.Background(), config.BatchConfig{Enabled: true, Concurrency: 1}, 4, client, renderer, nil, nil, discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	statuses := make(chan *nats.Msg, 8)
	done := make(chan *nats.Msg, 1)
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectRenderDone, statuses); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectBatchDone, done); err != nil {
		t.Fatal(err)
	}

	ack := request(t, client, protocol.RenderRequest{Samples: []sample.Sample{sample.Default(), sample.Default(), sample.Default()}})
	if ack.BatchID == "" || ack.Total != 3 {
		t.Fatalf("unexpected ack %+v", ack)
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-statuses:
			var st protocol.RenderStatus
			if err := json.Unmarshal(msg.Data, &st); err != nil {
				t.Fatal(err)
			}
			if st.BatchID != ack.BatchID || !st.Completed || st.Filename != "sample.wav" {
				t.Fatalf("unexpected status %+v", st)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for render status")
		}
	}

	select {
	case msg := <-done:
		var st protocol.BatchStatus
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatal(err)
		}
		if st.BatchID != ack.BatchID || st.Total != 3 || st.Failed != 0 || st.Error != "" {
			t.Fatalf("unexpected batch status %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch status")
	}

	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if renderer.batchIDs[0] != ack.BatchID || renderer.sizes[0] != 4 {
		t.Fatalf("batch id or default size not passed through: %v %v", renderer.batchIDs, renderer.sizes)
	}
}

func TestServiceReportsFailure(t *testing.T) {
	client := startBus(t)
	renderer := &fakeRenderer{failIndex: 1}
	svc := NewService(context.Background(), config.BatchConfig{Enabled: true, Concurrency: 1}, 4, client, renderer, nil, nil, discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	done := make(chan *nats.Msg, 1)
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectBatchDone, done); err != nil {
		t.Fatal(err)
	}

	ack := request(t, client, protocol.RenderRequest{BatchID: "fixed", BatchSize: 2, Samples: []sample.Sample{sample.Default(), sample.Default(), sample.Default()}})
	if ack.BatchID != "fixed" {
		t.Fatalf("expected caller batch id, got %s", ack.BatchID)
	}

	select {
	case msg := <-done:
		var st protocol.BatchStatus
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatal(err)
		}
		if st.Failed != 2 || st.Error == "" {
			t.Fatalf("expected failure reported, got %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch status")
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(context.Background(), config.BatchConfig{Enabled: false}, 4, nil, &fakeRenderer{}, nil, nil, discardLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !svc.Healthy() {
		t.Fatal("disabled service should report healthy")
	}
	svc.Close()
}
