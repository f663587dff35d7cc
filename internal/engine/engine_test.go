package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/davidkant/rpp/internal/config"
	"github.com/hypebeast/go-osc/osc"
)

type received struct {
	address string
	args    []any
}

type chanRouter chan received

func (c chanRouter) Dispatch(address string, args []any) {
	c <- received{address: address, args: args}
}

func startListener(t *testing.T) (*Listener, chanRouter, int) {
	t.Helper()
	router := make(chanRouter, 8)
	l, err := Listen(config.EngineConfig{ListenBind: "127.0.0.1", ListenPort: 0}, router, discardLogger())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, router, l.LocalAddr().(*net.UDPAddr).Port
}

func TestClientListenerLoopback(t *testing.T) {
	_, router, port := startListener(t)

	client, err := Dial(config.EngineConfig{Host: "127.0.0.1", Port: port}, discardLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := client.Send(context.Background(), "/1700000000000000001", int32(2), float32(0.5), "x"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-router:
		if msg.address != "/1700000000000000001" {
			t.Fatalf("unexpected address %s", msg.address)
		}
		if len(msg.args) != 3 || msg.args[0] != int32(2) || msg.args[1] != float32(0.5) || msg.args[2] != "x" {
			t.Fatalf("unexpected args %#v", msg.args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestListenerSurvivesMalformedPackets(t *testing.T) {
	_, router, port := startListener(t)

	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("garbage")); err != nil {
		t.Fatal(err)
	}

	bundle := osc.NewBundle(time.Now())
	bundle.Append(osc.NewMessage("/a"))
	bundle.Append(osc.NewMessage("/b"))
	data, err := bundle.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"/a", "/b"} {
		select {
		case msg := <-router:
			if msg.address != want {
				t.Fatalf("expected %s, got %s", want, msg.address)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSendHonoursContext(t *testing.T) {
	client, err := Dial(config.EngineConfig{Host: "127.0.0.1", Port: 9}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.Send(ctx, "/new"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestDialRequiresHost(t *testing.T) {
	if _, err := Dial(config.EngineConfig{}, discardLogger()); err == nil {
		t.Fatal("expected error without host")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
