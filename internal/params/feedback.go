package params

import (
	"fmt"
	"math/rand/v2"

	"github.com/davidkant/rpp/internal/controlspec"
	rpperrors "github.com/davidkant/rpp/internal/errors"
)

// Rand is the random source used by Randomize. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// FeedbackParams is one voice of the feedback topology: 24 named values in
// a fixed order. It is a value type; assignment copies.
type FeedbackParams struct {
	values [NumFields]float64
}

// Default returns the hard-coded defaults, overridden by any non-nil default
// that spec registers for a schema field.
func Default(spec *controlspec.ControlSpec) FeedbackParams {
	var p FeedbackParams
	for i, f := range schema {
		p.values[i] = f.Fallback
		if spec == nil {
			continue
		}
		if elem, err := spec.Lookup(f.Name); err == nil && elem.Default != nil {
			p.values[i] = *elem.Default
		}
	}
	return p
}

// FromList builds a voice from exactly NumFields values in field order.
func FromList(values []float64) (FeedbackParams, error) {
	var p FeedbackParams
	if len(values) != NumFields {
		return p, fmt.Errorf("%w: feedback params take %d values, got %d", rpperrors.ErrArity, NumFields, len(values))
	}
	copy(p.values[:], values)
	return p, nil
}

// FromMap starts from the defaults and applies values by internal name.
func FromMap(values map[string]float64) (FeedbackParams, error) {
	p := Default(nil)
	for name, v := range values {
		if err := p.Set(name, v); err != nil {
			return FeedbackParams{}, err
		}
	}
	return p, nil
}

// Get returns the value of a field.
func (p FeedbackParams) Get(name string) (float64, error) {
	i, ok := fieldIndex[name]
	if !ok {
		return 0, rpperrors.KeyNotFound(name)
	}
	return p.values[i], nil
}

// Set writes a field. The key set is closed; unknown names fail.
func (p *FeedbackParams) Set(name string, v float64) error {
	i, ok := fieldIndex[name]
	if !ok {
		return rpperrors.KeyNotFound(name)
	}
	p.values[i] = v
	return nil
}

// MapThrough returns a copy with every field mapped from its normalized
// position through spec.
func (p FeedbackParams) MapThrough(spec *controlspec.ControlSpec) (FeedbackParams, error) {
	var out FeedbackParams
	for i, f := range schema {
		v, err := spec.Map(f.Name, p.values[i])
		if err != nil {
			return FeedbackParams{}, fmt.Errorf("map %s: %w", f.Name, err)
		}
		out.values[i] = v
	}
	return out, nil
}

// Randomize returns a copy where each named field is drawn uniformly in
// normalized space and mapped through spec. A nil spec means the rust
// preset and a nil rng the package-level source.
func (p FeedbackParams) Randomize(names []string, spec *controlspec.ControlSpec, rng Rand) (FeedbackParams, error) {
	if spec == nil {
		spec = controlspec.RustSpec()
	}
	if rng == nil {
		rng = globalRand{}
	}
	out := p
	for _, name := range names {
		v, err := spec.Map(name, rng.Float64())
		if err != nil {
			return FeedbackParams{}, fmt.Errorf("randomize %s: %w", name, err)
		}
		if err := out.Set(name, v); err != nil {
			return FeedbackParams{}, err
		}
	}
	return out, nil
}

// FlatList returns the values in field order. This is the wire payload.
func (p FeedbackParams) FlatList() []float64 {
	out := make([]float64, NumFields)
	copy(out, p.values[:])
	return out
}

// Vector returns the values of subset (all fields when nil) in field order,
// optionally unmapped to normalized positions through spec.
func (p FeedbackParams) Vector(subset []string, unmapped bool, spec *controlspec.ControlSpec) ([]float64, error) {
	idx, err := selectFields(subset)
	if err != nil {
		return nil, err
	}
	if unmapped && spec == nil {
		return nil, fmt.Errorf("unmapped vector requires a control spec")
	}
	out := make([]float64, 0, len(idx))
	for _, i := range idx {
		v := p.values[i]
		if unmapped {
			if v, err = spec.Unmap(schema[i].Name, v); err != nil {
				return nil, fmt.Errorf("unmap %s: %w", schema[i].Name, err)
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// Row is an ordered name to value mapping.
type Row struct {
	Keys   []string
	Values map[string]float64
}

func newRow(capacity int) Row {
	return Row{Keys: make([]string, 0, capacity), Values: make(map[string]float64, capacity)}
}

func (r *Row) put(key string, v float64) {
	if _, exists := r.Values[key]; !exists {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = v
}

// TableRow is Vector keyed by field name with suffix appended.
func (p FeedbackParams) TableRow(subset []string, unmapped bool, spec *controlspec.ControlSpec, suffix string) (Row, error) {
	idx, err := selectFields(subset)
	if err != nil {
		return Row{}, err
	}
	values, err := p.Vector(subset, unmapped, spec)
	if err != nil {
		return Row{}, err
	}
	row := newRow(len(idx))
	for n, i := range idx {
		row.put(schema[i].Name+suffix, values[n])
	}
	return row, nil
}

func (p FeedbackParams) String() string {
	return fmt.Sprintf("FeedbackParams%v", p.values)
}

// selectFields resolves subset to field indices in field order.
func selectFields(subset []string) ([]int, error) {
	if subset == nil {
		idx := make([]int, NumFields)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	want := make(map[int]bool, len(subset))
	for _, name := range subset {
		i, ok := fieldIndex[name]
		if !ok {
			return nil, rpperrors.KeyNotFound(name)
		}
		want[i] = true
	}
	idx := make([]int, 0, len(want))
	for i := range schema {
		if want[i] {
			idx = append(idx, i)
		}
	}
	return idx, nil
}
