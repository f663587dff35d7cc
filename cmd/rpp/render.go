package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/davidkant/rpp/internal/bus"
	"github.com/davidkant/rpp/internal/config"
	"github.com/davidkant/rpp/internal/engine"
	"github.com/davidkant/rpp/internal/eventstore"
	"github.com/davidkant/rpp/internal/hook"
	"github.com/davidkant/rpp/internal/job"
	"github.com/davidkant/rpp/internal/params"
	"github.com/davidkant/rpp/internal/protocol"
	"github.com/davidkant/rpp/internal/render"
	"github.com/davidkant/rpp/internal/sample"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var (
	batchSize  int
	viaBus     bool
	outputPath string
	paramsPath string
)

var renderCmd = &cobra.Command{
	Use:   "render <samples.json>...",
	Short: "Render the samples in one or more JSON files",
	Long: `Render every sample found in the given files, in order. A file may hold
several concatenated JSON samples; "-" reads from stdin.

--params replaces every sample's voices with those saved in a data CSV
from an earlier render. Without sample files it renders the default
sample with those voices.

Examples:
  rpp render sample.json
  rpp render --batch-size 4 a.json b.json
  rpp render --params ~/renders/sweep_3_data.csv sample.json`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && paramsPath == "" {
			return fmt.Errorf("requires at least 1 sample file or --params")
		}
		return nil
	},
	RunE: runRender,
}

var batchCmd = &cobra.Command{
	Use:   "batch <job.yaml>",
	Short: "Generate and render the samples described by a job manifest",
	Long: `Generate the job's samples and render them locally, or hand them to a
running rppd over the bus with --bus.

Examples:
  rpp batch sweep.yaml
  rpp batch --bus sweep.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var generateCmd = &cobra.Command{
	Use:   "generate <job.yaml>",
	Short: "Write a job manifest's samples as a JSON stream without rendering",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func init() {
	renderCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Renders in flight before waiting (default: render.batch_size)")
	renderCmd.Flags().StringVar(&paramsPath, "params", "", "Data CSV whose voices replace each sample's parameters")
	batchCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Renders in flight before waiting (default: manifest, then render.batch_size)")
	batchCmd.Flags().BoolVar(&viaBus, "bus", false, "Submit to rppd over NATS instead of rendering locally")
	generateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: stdout)")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	var samples []sample.Sample
	for _, path := range args {
		batch, err := readSamples(cmd, path)
		if err != nil {
			return err
		}
		samples = append(samples, batch...)
	}
	if paramsPath != "" {
		if len(samples) == 0 {
			samples = []sample.Sample{sample.Default()}
		}
		if err := applyParams(samples, paramsPath); err != nil {
			return err
		}
	}
	size := firstPositive(batchSize, cfg.Render.BatchSize)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return renderLocal(ctx, cmd.OutOrStdout(), cfg, samples, size, "cli", log)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := job.Load(args[0])
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	samples, err := m.Samples(nil)
	if err != nil {
		return err
	}
	size := firstPositive(batchSize, m.Render.BatchSize, cfg.Render.BatchSize)
	log.Info("job loaded", slog.String("name", m.Metadata.Name), slog.Int("samples", len(samples)))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if viaBus {
		return submit(ctx, cmd.OutOrStdout(), cfg, samples, size, log)
	}
	return renderLocal(ctx, cmd.OutOrStdout(), cfg, samples, size, "job:"+m.Metadata.Name, log)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	m, err := job.Load(args[0])
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	samples, err := m.Samples(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return sample.Encode(out, samples...)
}

// applyParams loads the voices saved by an earlier render and installs
// them in every sample.
func applyParams(samples []sample.Sample, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	quad, err := params.ReadDataCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for i := range samples {
		samples[i].SynthParams = quad
	}
	return nil
}

func readSamples(cmd *cobra.Command, path string) ([]sample.Sample, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	samples, err := sample.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// renderLocal drives the engine from this process and prints one line per
// resolved render. It fails if any render did not complete.
func renderLocal(ctx context.Context, out io.Writer, cfg config.Config, samples []sample.Sample, size int, source string, log *slog.Logger) error {
	journal, err := eventstore.Open(ctx, cfg.EventStore, log.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer journal.Close()

	client, err := engine.Dial(cfg.Engine, log)
	if err != nil {
		return err
	}
	orch := render.New(cfg.Render, client, journal, log)
	listener, err := engine.Listen(cfg.Engine, orch.Registry(), log)
	if err != nil {
		return err
	}
	defer listener.Close()

	hooks, err := hook.New(cfg.Hooks, log)
	if err != nil {
		return err
	}

	batchID := uuid.NewString()
	if err := journal.AppendBatch(ctx, batchID, len(samples), source); err != nil {
		log.Warn("failed to journal batch", slog.String("error", err.Error()))
	}

	ptrs := make([]*sample.Sample, len(samples))
	for i := range samples {
		ptrs[i] = &samples[i]
	}
	var mu sync.Mutex
	results, err := orch.BatchRender(render.WithBatchID(ctx, batchID), ptrs, size, func(_ int, res render.Result) {
		mu.Lock()
		fmt.Fprintf(out, "%s\t%s\t%s\t%dms\n", res.RenderID, res.Status(), res.Sample.RenderParams.WavName(), res.Elapsed().Milliseconds())
		mu.Unlock()
		if err := hooks.Run(ctx, res); err != nil {
			log.Warn("on-complete hook failed", slog.String("render_id", res.RenderID), slog.String("error", err.Error()))
		}
	})
	orch.Wait()
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d renders failed (batch %s)", failed, len(results), batchID)
	}
	return nil
}

// submit sends the samples to rppd and streams its status messages until
// the batch finishes.
func submit(ctx context.Context, out io.Writer, cfg config.Config, samples []sample.Sample, size int, log *slog.Logger) error {
	client, err := bus.Connect(ctx, cfg.Bus, log)
	if err != nil {
		return err
	}
	defer client.Close()

	req := protocol.RenderRequest{BatchID: uuid.NewString(), BatchSize: size, Samples: samples}
	renders := make(chan *nats.Msg, 64)
	renderSub, err := client.Conn().ChanSubscribe(protocol.SubjectRenderDone, renders)
	if err != nil {
		return err
	}
	defer renderSub.Unsubscribe()
	batches := make(chan *nats.Msg, 4)
	batchSub, err := client.Conn().ChanSubscribe(protocol.SubjectBatchDone, batches)
	if err != nil {
		return err
	}
	defer batchSub.Unsubscribe()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	reply, err := client.Conn().RequestWithContext(reqCtx, protocol.SubjectRenderRequest, data)
	if err != nil {
		return fmt.Errorf("submit batch: %w", err)
	}
	var ack protocol.RenderAccepted
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return fmt.Errorf("decode acknowledgement: %w", err)
	}
	fmt.Fprintf(out, "batch %s accepted (%d samples)\n", ack.BatchID, ack.Total)

	printRender := func(msg *nats.Msg) {
		var st protocol.RenderStatus
		if err := json.Unmarshal(msg.Data, &st); err != nil || st.BatchID != ack.BatchID {
			return
		}
		status := "completed"
		if !st.Completed {
			status = "failed: " + st.Error
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%dms\n", st.RenderID, status, st.Filename, st.ElapsedMS)
	}

	for {
		select {
		case msg := <-renders:
			printRender(msg)
		case msg := <-batches:
			var st protocol.BatchStatus
			if err := json.Unmarshal(msg.Data, &st); err != nil || st.BatchID != ack.BatchID {
				continue
			}
			for len(renders) > 0 {
				printRender(<-renders)
			}
			if st.Error != "" || st.Failed > 0 {
				return fmt.Errorf("%d of %d renders failed: %s", st.Failed, st.Total, st.Error)
			}
			fmt.Fprintf(out, "batch %s complete in %s\n", st.BatchID, time.Since(start).Round(time.Millisecond))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 1
}
