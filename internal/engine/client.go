// Package engine talks OSC to the synthesis engine: control messages go out
// through a Client, completion notifications come back through a Listener.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"

	"github.com/davidkant/rpp/internal/config"
	rpperrors "github.com/davidkant/rpp/internal/errors"
	"github.com/hypebeast/go-osc/osc"
)

// Client sends control messages to the engine.
type Client struct {
	osc  *osc.Client
	addr string
	log  *slog.Logger
}

func Dial(cfg config.EngineConfig, log *slog.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("no engine host configured")
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	log.Info("engine client ready", slog.String("addr", addr))
	return &Client{
		osc:  osc.NewClient(cfg.Host, cfg.Port),
		addr: addr,
		log:  log,
	}, nil
}

// Send delivers one message. Delivery is fire-and-forget UDP; an error
// means the datagram could not be written, not that the engine ignored it.
func (c *Client) Send(ctx context.Context, address string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.osc.Send(osc.NewMessage(address, args...)); err != nil {
		return rpperrors.NewTransportError(address, err)
	}
	c.log.Debug("osc sent", slog.String("address", address), slog.Int("args", len(args)))
	return nil
}

// Addr is the engine's host:port.
func (c *Client) Addr() string {
	return c.addr
}
