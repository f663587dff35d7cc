// Package sample defines the unit of work handed to the render orchestrator.
package sample

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	rpperrors "github.com/davidkant/rpp/internal/errors"
	"github.com/davidkant/rpp/internal/params"
)

// TopologyFeedbackQuad is the only topology the engine currently renders.
const TopologyFeedbackQuad = "feedback_quad"

// RenderParams tells the engine where and how long to render.
type RenderParams struct {
	RenderID string  `json:"render_id"`
	Folder   string  `json:"folder"`
	Filename string  `json:"filename"`
	Duration float64 `json:"duration"`
	Wait     float64 `json:"wait"`
}

// DefaultRenderParams returns the engine defaults. RenderID is overwritten
// when the sample is rendered.
func DefaultRenderParams() RenderParams {
	return RenderParams{
		RenderID: "00",
		Folder:   "~",
		Filename: "sample",
		Duration: 20.0,
		Wait:     0.0,
	}
}

// WavName is the filename sent to the engine.
func (r RenderParams) WavName() string {
	return r.Filename + ".wav"
}

// CSVPaths returns the display and data artifact paths.
func (r RenderParams) CSVPaths() (display, data string) {
	folder := expandHome(r.Folder)
	return filepath.Join(folder, r.Filename+".csv"), filepath.Join(folder, r.Filename+"_data.csv")
}

// Sample pairs render settings with the synthesis parameters of a topology.
type Sample struct {
	Topology     string
	RenderParams RenderParams
	SynthParams  params.FeedbackQuadParams
}

func New(topology string, rp RenderParams, synth params.FeedbackQuadParams) Sample {
	return Sample{Topology: topology, RenderParams: rp, SynthParams: synth}
}

// Default is a feedback quad sample with default render and synth params.
func Default() Sample {
	return New(TopologyFeedbackQuad, DefaultRenderParams(), params.DefaultQuad(nil))
}

type wireSample struct {
	Topology     *string                    `json:"topology"`
	RenderParams *RenderParams              `json:"render_params"`
	SynthParams  *params.FeedbackQuadParams `json:"synth_params"`
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSample{
		Topology:     &s.Topology,
		RenderParams: &s.RenderParams,
		SynthParams:  &s.SynthParams,
	})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var w wireSample
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Topology == nil:
		return rpperrors.MissingField("topology")
	case w.RenderParams == nil:
		return rpperrors.MissingField("render_params")
	case w.SynthParams == nil:
		return rpperrors.MissingField("synth_params")
	}
	*s = New(*w.Topology, *w.RenderParams, *w.SynthParams)
	return nil
}

// Decode reads every sample from a stream of concatenated JSON objects.
func Decode(r io.Reader) ([]Sample, error) {
	dec := json.NewDecoder(r)
	var out []Sample
	for {
		var s Sample
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode sample %d: %w", len(out), err)
		}
		out = append(out, s)
	}
}

// Encode writes samples as concatenated JSON objects, one per line.
func Encode(w io.Writer, samples ...Sample) error {
	enc := json.NewEncoder(w)
	for i, s := range samples {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode sample %d: %w", i, err)
		}
	}
	return nil
}
