package params

import (
	"encoding/json"
	"fmt"

	"github.com/davidkant/rpp/internal/controlspec"
	rpperrors "github.com/davidkant/rpp/internal/errors"
)

// FeedbackQuadParams holds the four voices A..D of the quad topology.
type FeedbackQuadParams [NumVoices]FeedbackParams

// DefaultQuad returns four default voices.
func DefaultQuad(spec *controlspec.ControlSpec) FeedbackQuadParams {
	var q FeedbackQuadParams
	for i := range q {
		q[i] = Default(spec)
	}
	return q
}

// Randomize randomizes names independently in every voice.
func (q FeedbackQuadParams) Randomize(names []string, spec *controlspec.ControlSpec, rng Rand) (FeedbackQuadParams, error) {
	var out FeedbackQuadParams
	for i, voice := range q {
		r, err := voice.Randomize(names, spec, rng)
		if err != nil {
			return FeedbackQuadParams{}, fmt.Errorf("voice %s: %w", VoiceLabels[i], err)
		}
		out[i] = r
	}
	return out, nil
}

// MapThrough maps every voice through spec.
func (q FeedbackQuadParams) MapThrough(spec *controlspec.ControlSpec) (FeedbackQuadParams, error) {
	var out FeedbackQuadParams
	for i, voice := range q {
		m, err := voice.MapThrough(spec)
		if err != nil {
			return FeedbackQuadParams{}, fmt.Errorf("voice %s: %w", VoiceLabels[i], err)
		}
		out[i] = m
	}
	return out, nil
}

// SetAll writes value into field name of all four voices.
func (q *FeedbackQuadParams) SetAll(name string, value float64) error {
	for i := range q {
		if err := q[i].Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// FlatList concatenates the voices' values in voice order.
func (q FeedbackQuadParams) FlatList() []float64 {
	out := make([]float64, 0, NumVoices*NumFields)
	for _, voice := range q {
		out = append(out, voice.values[:]...)
	}
	return out
}

// Vector concatenates the voices' vectors in voice order.
func (q FeedbackQuadParams) Vector(subset []string, unmapped bool, spec *controlspec.ControlSpec) ([]float64, error) {
	var out []float64
	for i, voice := range q {
		v, err := voice.Vector(subset, unmapped, spec)
		if err != nil {
			return nil, fmt.Errorf("voice %s: %w", VoiceLabels[i], err)
		}
		out = append(out, v...)
	}
	return out, nil
}

// TableRow merges the voices' rows, suffixing names with the voice label.
func (q FeedbackQuadParams) TableRow(subset []string, unmapped bool, spec *controlspec.ControlSpec) (Row, error) {
	merged := newRow(NumVoices * NumFields)
	for i, voice := range q {
		row, err := voice.TableRow(subset, unmapped, spec, VoiceLabels[i])
		if err != nil {
			return Row{}, fmt.Errorf("voice %s: %w", VoiceLabels[i], err)
		}
		for _, key := range row.Keys {
			merged.put(key, row.Values[key])
		}
	}
	return merged, nil
}

// Records returns the external form of each voice.
func (q FeedbackQuadParams) Records() []Record {
	out := make([]Record, NumVoices)
	for i, voice := range q {
		out[i] = voice.Record()
	}
	return out
}

// QuadFromRecords rebuilds a quad from exactly four voice records.
func QuadFromRecords(recs []Record) (FeedbackQuadParams, error) {
	var q FeedbackQuadParams
	if len(recs) != NumVoices {
		return q, fmt.Errorf("%w: quad needs %d voices, got %d", rpperrors.ErrArity, NumVoices, len(recs))
	}
	for i, rec := range recs {
		voice, err := FromRecord(rec)
		if err != nil {
			return FeedbackQuadParams{}, fmt.Errorf("voice %s: %w", VoiceLabels[i], err)
		}
		q[i] = voice
	}
	return q, nil
}

func (q FeedbackQuadParams) MarshalJSON() ([]byte, error) {
	return json.Marshal([NumVoices]FeedbackParams(q))
}

func (q *FeedbackQuadParams) UnmarshalJSON(data []byte) error {
	var voices []FeedbackParams
	if err := json.Unmarshal(data, &voices); err != nil {
		return err
	}
	if len(voices) != NumVoices {
		return fmt.Errorf("%w: quad needs %d voices, got %d", rpperrors.ErrArity, NumVoices, len(voices))
	}
	copy(q[:], voices)
	return nil
}
