package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/davidkant/rpp/internal/config"
	"github.com/hypebeast/go-osc/osc"
)

const maxDatagram = 65535

// Router receives every inbound message.
type Router interface {
	Dispatch(address string, args []any)
}

// Listener receives completion notifications from the engine and hands
// each message to a Router on its single read goroutine.
type Listener struct {
	conn   net.PacketConn
	router Router
	log    *slog.Logger
	wg     sync.WaitGroup
}

// Listen binds the completion endpoint and starts serving in the
// background. Close stops it.
func Listen(cfg config.EngineConfig, router Router, log *slog.Logger) (*Listener, error) {
	addr := net.JoinHostPort(cfg.ListenBind, strconv.Itoa(cfg.ListenPort))
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	l := &Listener{
		conn:   conn,
		router: router,
		log:    log,
	}
	l.wg.Add(1)
	go l.serve()

	log.Info("engine listener started", slog.String("addr", conn.LocalAddr().String()))
	return l, nil
}

// LocalAddr reports the bound address, useful when listening on port 0.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *Listener) Close() error {
	if l == nil {
		return nil
	}
	err := l.conn.Close()
	l.wg.Wait()
	l.log.Info("engine listener stopped")
	return err
}

func (l *Listener) serve() {
	defer l.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.log.Warn("osc read failed", slog.String("error", err.Error()))
			}
			return
		}
		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			l.log.Warn("dropping malformed osc packet",
				slog.String("from", from.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.dispatch(packet)
	}
}

// dispatch flattens bundles so the router only sees messages.
func (l *Listener) dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		l.log.Debug("osc received", slog.String("address", p.Address))
		l.router.Dispatch(p.Address, p.Arguments)
	case *osc.Bundle:
		for _, msg := range p.Messages {
			l.dispatch(msg)
		}
		for _, nested := range p.Bundles {
			l.dispatch(nested)
		}
	}
}
