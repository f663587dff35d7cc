package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/davidkant/rpp/internal/sample"
)

// writeArtifacts saves the display and data CSVs next to the rendered
// audio. Failures are logged and counted; the render itself proceeds.
func (o *Orchestrator) writeArtifacts(ctx context.Context, s sample.Sample) {
	display, data := s.RenderParams.CSVPaths()
	for _, artifact := range []struct {
		path  string
		write func(io.Writer) error
	}{
		{display, s.SynthParams.WriteDisplayCSV},
		{data, s.SynthParams.WriteDataCSV},
	} {
		if err := writeFile(artifact.path, artifact.write); err != nil {
			add(ctx, o.metrics.artifactErrors)
			o.log.Warn("failed to write parameter csv",
				slog.String("render_id", s.RenderParams.RenderID),
				slog.String("path", artifact.path),
				slogError(err),
			)
		}
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
