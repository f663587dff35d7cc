// Package hook runs a user command after each render resolves.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/davidkant/rpp/internal/config"
	"github.com/davidkant/rpp/internal/render"
	"github.com/mattn/go-shellwords"
)

// Runner executes the configured on-complete command.
type Runner struct {
	cmd     []string
	timeout time.Duration
	log     *slog.Logger
}

// New parses the command once. It returns a nil Runner when no command is
// configured; a nil Runner does nothing.
func New(cfg config.HooksConfig, log *slog.Logger) (*Runner, error) {
	if strings.TrimSpace(cfg.OnComplete) == "" {
		return nil, nil
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.OnComplete)
	if err != nil {
		return nil, fmt.Errorf("parse hook command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("hook command empty")
	}
	return &Runner{
		cmd:     args,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		log:     log.With(slog.String("component", "hook")),
	}, nil
}

// Env describes res as RPP_* variables. $NAME and ${NAME} references to
// them in the command line are expanded before the command starts.
func Env(res render.Result) map[string]string {
	rp := res.Sample.RenderParams
	display, data := rp.CSVPaths()
	env := map[string]string{
		"RPP_RENDER_ID":  res.RenderID,
		"RPP_FOLDER":     rp.Folder,
		"RPP_FILENAME":   rp.WavName(),
		"RPP_WAV_PATH":   filepath.Join(filepath.Dir(display), rp.WavName()),
		"RPP_CSV_PATH":   display,
		"RPP_DATA_CSV":   data,
		"RPP_STATUS":     res.Status(),
		"RPP_ELAPSED_MS": strconv.FormatInt(res.Elapsed().Milliseconds(), 10),
		"RPP_TOPOLOGY":   res.Sample.Topology,
		"RPP_DURATION_S": strconv.FormatFloat(rp.Duration, 'f', -1, 64),
		"RPP_ERROR":      "",
	}
	if res.Err != nil {
		env["RPP_ERROR"] = res.Err.Error()
	}
	return env
}

// Run executes the command for res and waits for it.
func (r *Runner) Run(ctx context.Context, res render.Result) error {
	if r == nil {
		return nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	env := Env(res)
	expand := func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return "$" + key
	}
	args := make([]string, len(r.cmd))
	for i, arg := range r.cmd {
		args[i] = os.Expand(arg, expand)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.log.Warn("hook failed",
			slog.String("render_id", res.RenderID),
			slog.String("output", strings.TrimSpace(string(out))),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("hook for render %s: %w", res.RenderID, err)
	}
	r.log.Info("hook finished",
		slog.String("render_id", res.RenderID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
