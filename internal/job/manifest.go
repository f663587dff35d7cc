// Package job loads batch manifests: YAML files that describe a family of
// randomized samples to render.
package job

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/davidkant/rpp/internal/controlspec"
	"github.com/davidkant/rpp/internal/params"
	"github.com/davidkant/rpp/internal/sample"
	"gopkg.in/yaml.v3"
)

// Manifest describes a render job.
type Manifest struct {
	Metadata Metadata   `yaml:"metadata"`
	Render   RenderSpec `yaml:"render"`
	Synth    SynthSpec  `yaml:"synth"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`
}

type RenderSpec struct {
	Folder         string  `yaml:"folder"`
	FilenamePrefix string  `yaml:"filename_prefix"`
	Duration       float64 `yaml:"duration"`
	Wait           float64 `yaml:"wait"`
	BatchSize      int     `yaml:"batch_size,omitempty"`
}

type SynthSpec struct {
	Topology  string             `yaml:"topology"`
	Preset    string             `yaml:"preset"`
	Count     int                `yaml:"count"`
	Seed      uint64             `yaml:"seed,omitempty"`
	Randomize []string           `yaml:"randomize,omitempty"`
	Set       map[string]float64 `yaml:"set,omitempty"`
}

// Load reads a manifest from disk, filling render defaults for fields the
// file leaves out.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return Parse(data)
}

// Parse decodes a manifest.
func Parse(data []byte) (Manifest, error) {
	defaults := sample.DefaultRenderParams()
	m := Manifest{
		Render: RenderSpec{
			Folder:         defaults.Folder,
			FilenamePrefix: defaults.Filename,
			Duration:       defaults.Duration,
			Wait:           defaults.Wait,
		},
		Synth: SynthSpec{
			Topology: sample.TopologyFeedbackQuad,
			Preset:   controlspec.PresetRust,
			Count:    1,
		},
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Validate ensures manifest contains required fields.
func Validate(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if m.Render.FilenamePrefix == "" {
		return fmt.Errorf("render.filename_prefix is required")
	}
	if m.Render.Duration <= 0 {
		return fmt.Errorf("render.duration must be positive")
	}
	if m.Render.Wait < 0 {
		return fmt.Errorf("render.wait must be >= 0")
	}
	if m.Render.BatchSize < 0 {
		return fmt.Errorf("render.batch_size must be >= 0")
	}
	if m.Synth.Topology != sample.TopologyFeedbackQuad {
		return fmt.Errorf("synth.topology %q not supported", m.Synth.Topology)
	}
	if m.Synth.Count <= 0 {
		return fmt.Errorf("synth.count must be >= 1")
	}
	spec, err := controlspec.Preset(m.Synth.Preset)
	if err != nil {
		return fmt.Errorf("synth.preset: %w", err)
	}
	for _, name := range m.Synth.Randomize {
		if !params.HasField(name) {
			return fmt.Errorf("synth.randomize: unknown parameter %q", name)
		}
		if _, err := spec.Lookup(name); err != nil {
			return fmt.Errorf("synth.randomize: preset %s has no range for %q", m.Synth.Preset, name)
		}
	}
	for name := range m.Synth.Set {
		if !params.HasField(name) {
			return fmt.Errorf("synth.set: unknown parameter %q", name)
		}
	}
	return nil
}

// Samples generates the job's samples in order. With a nil rng the
// manifest seed is used, or the global source when the seed is 0.
func (m Manifest) Samples(rng params.Rand) ([]sample.Sample, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	spec, err := controlspec.Preset(m.Synth.Preset)
	if err != nil {
		return nil, err
	}
	if rng == nil && m.Synth.Seed != 0 {
		rng = rand.New(rand.NewPCG(m.Synth.Seed, m.Synth.Seed))
	}

	base := params.DefaultQuad(spec)
	for name, v := range m.Synth.Set {
		if err := base.SetAll(name, v); err != nil {
			return nil, err
		}
	}

	width := len(fmt.Sprint(m.Synth.Count - 1))
	out := make([]sample.Sample, 0, m.Synth.Count)
	for i := 0; i < m.Synth.Count; i++ {
		synth, err := base.Randomize(m.Synth.Randomize, spec, rng)
		if err != nil {
			return nil, err
		}
		rp := sample.DefaultRenderParams()
		rp.Folder = m.Render.Folder
		rp.Filename = fmt.Sprintf("%s_%0*d", m.Render.FilenamePrefix, width, i)
		rp.Duration = m.Render.Duration
		rp.Wait = m.Render.Wait
		out = append(out, sample.New(m.Synth.Topology, rp, synth))
	}
	return out, nil
}
