package render

import (
	"context"
	"time"

	"github.com/davidkant/rpp/internal/config"
)

// Delays pace the control sequence so the engine can apply each step.
type Delays struct {
	New      time.Duration
	Config   time.Duration
	Params   time.Duration
	Topology time.Duration
	Render   time.Duration
}

// DefaultDelays is 100ms between every step.
func DefaultDelays() Delays {
	d := 100 * time.Millisecond
	return Delays{New: d, Config: d, Params: d, Topology: d, Render: d}
}

func DelaysFromConfig(cfg config.RenderConfig) Delays {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Delays{
		New:      ms(cfg.NewDelayMS),
		Config:   ms(cfg.ConfigDelayMS),
		Params:   ms(cfg.ParamsDelayMS),
		Topology: ms(cfg.TopologyDelayMS),
		Render:   ms(cfg.RenderDelayMS),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
