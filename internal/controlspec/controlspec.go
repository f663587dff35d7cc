// Package controlspec maps normalized control positions in [0, 1] to the
// physical values the synthesis engine expects, and back.
package controlspec

import (
	"fmt"
	"math"
	"sort"

	rpperrors "github.com/davidkant/rpp/internal/errors"
)

// Curve selects the mapping family for a parameter.
type Curve int

const (
	Linear Curve = iota
	Exp
	Binary
)

func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Exp:
		return "exp"
	case Binary:
		return "binary"
	}
	return fmt.Sprintf("curve(%d)", int(c))
}

// ParseCurve resolves a curve name as written in configuration files.
func ParseCurve(name string) (Curve, error) {
	switch name {
	case "linear":
		return Linear, nil
	case "exp":
		return Exp, nil
	case "binary":
		return Binary, nil
	}
	return 0, fmt.Errorf("unknown curve %q", name)
}

// SpecElem is the mapping rule registered for one parameter.
type SpecElem struct {
	Lo      float64
	Hi      float64
	Curve   Curve
	Default *float64
}

// ControlSpec holds the mapping rules for a set of parameters. It is built
// once and only read afterwards, so concurrent Map/Unmap calls are safe.
type ControlSpec struct {
	data map[string]SpecElem
}

func New() *ControlSpec {
	return &ControlSpec{data: make(map[string]SpecElem)}
}

// Default returns a pointer to v, for use as the default argument of Add.
func Default(v float64) *float64 {
	return &v
}

// Add registers name, replacing any earlier rule for the same name.
func (s *ControlSpec) Add(name string, lo, hi float64, curve Curve, def *float64) {
	if def != nil {
		v := *def
		def = &v
	}
	s.data[name] = SpecElem{Lo: lo, Hi: hi, Curve: curve, Default: def}
}

// Lookup returns the rule registered for name.
func (s *ControlSpec) Lookup(name string) (SpecElem, error) {
	elem, ok := s.data[name]
	if !ok {
		return SpecElem{}, rpperrors.KeyNotFound(name)
	}
	return elem, nil
}

// Names returns the registered parameter names in sorted order.
func (s *ControlSpec) Names() []string {
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *ControlSpec) Len() int {
	return len(s.data)
}

// Map converts a normalized value to its physical value. The input is
// clipped to [0, 1] first.
func (s *ControlSpec) Map(name string, val float64) (float64, error) {
	elem, err := s.Lookup(name)
	if err != nil {
		return 0, err
	}
	val = clip(val, 0, 1)
	switch elem.Curve {
	case Linear:
		return val*(elem.Hi-elem.Lo) + elem.Lo, nil
	case Exp:
		if elem.Lo <= 0 || elem.Hi <= 0 {
			return 0, fmt.Errorf("%w: exp bounds of %q must be positive (lo=%g hi=%g)", rpperrors.ErrDomain, name, elem.Lo, elem.Hi)
		}
		return math.Pow(elem.Hi/elem.Lo, val) * elem.Lo, nil
	case Binary:
		if val <= 0.5 {
			return 0, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %q has unknown curve %s", rpperrors.ErrDomain, name, elem.Curve)
}

// Unmap converts a physical value back to its normalized position. Unlike
// Map, the input is clipped to the parameter's own [min(lo,hi), max(lo,hi)].
func (s *ControlSpec) Unmap(name string, val float64) (float64, error) {
	elem, err := s.Lookup(name)
	if err != nil {
		return 0, err
	}
	val = clip(val, math.Min(elem.Lo, elem.Hi), math.Max(elem.Lo, elem.Hi))
	switch elem.Curve {
	case Linear:
		if elem.Hi == elem.Lo {
			return 0, fmt.Errorf("%w: linear bounds of %q are equal (%g)", rpperrors.ErrDomain, name, elem.Lo)
		}
		return (val - elem.Lo) / (elem.Hi - elem.Lo), nil
	case Exp:
		if val <= 0 || elem.Lo <= 0 || elem.Hi <= 0 || elem.Hi == elem.Lo {
			return 0, fmt.Errorf("%w: cannot unmap %g through exp bounds of %q (lo=%g hi=%g)", rpperrors.ErrDomain, val, name, elem.Lo, elem.Hi)
		}
		return math.Log(val/elem.Lo) / math.Log(elem.Hi/elem.Lo), nil
	case Binary:
		return val, nil
	}
	return 0, fmt.Errorf("%w: %q has unknown curve %s", rpperrors.ErrDomain, name, elem.Curve)
}

func clip(val, lo, hi float64) float64 {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
