package params

import (
	"bytes"
	"encoding/json"
	"fmt"

	rpperrors "github.com/davidkant/rpp/internal/errors"
)

// Record is the external form of a voice: snake_case keys, with the
// feedback and output scalars collapsed into two 3-element sequences.
type Record map[string]any

// Record converts p to its external form.
func (p FeedbackParams) Record() Record {
	rec := make(Record, NumFields-4)
	groups := map[string][]float64{
		GroupFeedback: make([]float64, 3),
		GroupOutput:   make([]float64, 3),
	}
	for i, f := range schema {
		if f.Group != "" {
			groups[f.Group][f.Slot] = p.values[i]
			continue
		}
		rec[f.External] = p.values[i]
	}
	for key, vec := range groups {
		rec[key] = vec
	}
	return rec
}

// FromRecord rebuilds a voice from its external form. Both group keys are
// required; flat keys that are absent keep their defaults.
func FromRecord(rec Record) (FeedbackParams, error) {
	p := Default(nil)
	for key, raw := range rec {
		if _, isGroup := groupNames[key]; isGroup {
			continue
		}
		v, err := toFloat(raw)
		if err != nil {
			return FeedbackParams{}, fmt.Errorf("field %s: %w", key, err)
		}
		if err := p.Set(InternalName(key), v); err != nil {
			return FeedbackParams{}, err
		}
	}
	for _, group := range []string{GroupFeedback, GroupOutput} {
		raw, ok := rec[group]
		if !ok {
			return FeedbackParams{}, rpperrors.MissingField(group)
		}
		vec, err := toVector(raw)
		if err != nil {
			return FeedbackParams{}, fmt.Errorf("field %s: %w", group, err)
		}
		if len(vec) != 3 {
			return FeedbackParams{}, fmt.Errorf("%w: %s needs 3 values, got %d", rpperrors.ErrMissingField, group, len(vec))
		}
		for slot, i := range groupMembers[group] {
			p.values[i] = vec[slot]
		}
	}
	return p, nil
}

// MarshalJSON writes the external record with keys in field order.
func (p FeedbackParams) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeKey := func(key string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
	}
	for i, f := range schema {
		if f.Group != "" {
			continue
		}
		writeKey(f.External)
		v, err := json.Marshal(p.values[i])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		buf.Write(v)
	}
	for _, group := range []string{GroupFeedback, GroupOutput} {
		members := groupMembers[group]
		writeKey(group)
		v, err := json.Marshal([3]float64{p.values[members[0]], p.values[members[1]], p.values[members[2]]})
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", group, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *FeedbackParams) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	parsed, err := FromRecord(rec)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("expected number, got %T", raw)
}

func toVector(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case [3]float64:
		return v[:], nil
	case []any:
		out := make([]float64, len(v))
		for i, item := range v {
			f, err := toFloat(item)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected sequence, got %T", raw)
}
