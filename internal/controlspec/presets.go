package controlspec

import (
	"fmt"

	rpperrors "github.com/davidkant/rpp/internal/errors"
)

const (
	PresetRust   = "rust"
	PresetLegacy = "legacy"
)

// Preset resolves a preset by name. "default" is accepted for the legacy
// table, which is what the first engine revision called it.
func Preset(name string) (*ControlSpec, error) {
	switch name {
	case PresetRust, "":
		return RustSpec(), nil
	case PresetLegacy, "default":
		return LegacySpec(), nil
	}
	return nil, fmt.Errorf("preset: %w", rpperrors.KeyNotFound(name))
}

// RustSpec is the table for the current engine, one entry per
// FeedbackParams field.
func RustSpec() *ControlSpec {
	s := New()
	s.Add("koscFreq", 0, 1, Linear, nil)
	s.Add("koscError", 0.5, 15, Linear, nil)
	s.Add("koscR", 0.1, 40.0, Exp, nil)
	s.Add("lowPassPot", 0, 1, Linear, nil)
	s.Add("preAmpPot", 0, 1, Linear, nil)
	s.Add("powAmpPot", 0, 1, Linear, nil)
	s.Add("lfoPot", 0.1, 1, Linear, nil)
	s.Add("lfoCSwitch", 0, 1, Binary, nil)
	s.Add("lfoWidth", 0.1, 1, Linear, nil)
	s.Add("lfoIPhase", 0, 1, Linear, nil)
	s.Add("lfoLowPassPot", 0, 1, Linear, nil)
	s.Add("vactrolAttack", 0.001, 0.3, Exp, nil)
	s.Add("vactrolDecay", 0.01, 3.0, Exp, nil)
	s.Add("vactrolHysteresis", 0.0, 100.0, Linear, nil)
	s.Add("vactrolDepth", 1.0, 6.0, Linear, nil)
	s.Add("vactrolScalar", 0.1, 2.0, Linear, nil)
	s.Add("vactrolGate", 0, 1, Linear, nil)
	s.Add("lfoGate", 0, 1, Linear, nil)
	s.Add("fbackX", 0, 1, Linear, nil)
	s.Add("fbackY", 0, 1, Linear, nil)
	s.Add("fbackZ", 0, 1, Linear, nil)
	s.Add("outX", 0, 1, Linear, nil)
	s.Add("outY", 0, 1, Linear, nil)
	s.Add("outZ", 0, 1, Linear, nil)
	return s
}

// LegacySpec is the table for the first hardware revision, which addressed
// two oscillators by suffixed names.
func LegacySpec() *ControlSpec {
	on := Default(1)
	s := New()
	s.Add("koscFreq", 1, 1, Linear, nil)
	s.Add("koscError", 0.5, 15, Linear, nil)
	s.Add("lowPassPot", 0, 1, Linear, nil)

	s.Add("koscRA", 0.1, 40.0, Exp, nil)
	s.Add("preAmpPotA", 0, 1, Linear, nil)
	s.Add("powAmpPotA", 0, 1, Linear, nil)
	s.Add("lfoPotA", 0.1, 1, Linear, nil)
	s.Add("lfoCapSwitchA", 0, 1, Linear, on)
	s.Add("lfoIPhaseA", 0, 1, Linear, nil)
	s.Add("lfoLowPassPotA", 0, 1, Linear, nil)
	s.Add("vactrolScalarA", 0.1, 2.0, Linear, nil)
	s.Add("vactrolAttackA", 0.001, 0.3, Exp, nil)
	s.Add("vactrolDecayA", 0.01, 3.0, Exp, nil)
	s.Add("vactrolHysteresisA", 0.0, 100.0, Linear, nil)
	s.Add("vactrolDepthA", 1.0, 6.0, Linear, nil)
	s.Add("koscGateA", 0, 1, Linear, on)
	s.Add("vactrolGateA", 0, 1, Linear, on)
	s.Add("lfoGateA", 0, 1, Linear, on)
	s.Add("fbackXA", 0, 1, Linear, nil)
	s.Add("fbackYA", 0, 1, Linear, nil)
	s.Add("fbackZA", 0, 1, Linear, nil)
	s.Add("outXA", 0, 1, Linear, nil)
	s.Add("outYA", 0, 1, Linear, nil)
	s.Add("outZA", 0, 1, Linear, nil)

	s.Add("koscRB", 0, 40.0, Linear, nil)
	s.Add("preAmpPotB", 0, 1, Linear, nil)
	s.Add("powAmpPotB", 0, 1, Linear, nil)
	s.Add("lfoPotB", 0.1, 1, Linear, nil)
	s.Add("lfoCapSwitchB", 0, 1, Binary, nil)
	s.Add("lfoLowPassPotB", 0, 1, Linear, nil)
	s.Add("vactrolScalarB", 0.1, 2.0, Linear, nil)
	s.Add("vactrolAttackB", 0.001, 0.03, Exp, nil)
	s.Add("vactrolDecayB", 0.01, 3.0, Exp, nil)
	s.Add("vactrolHysteresisB", 0.0, 100.0, Linear, nil)
	s.Add("vactrolDepthB", 1.0, 6.0, Linear, nil)
	s.Add("koscGateB", 0, 1, Linear, on)
	s.Add("vactrolGateB", 0, 1, Linear, on)
	s.Add("lfoGateB", 0, 1, Linear, on)
	s.Add("fbackXB", 0, 1, Linear, nil)
	s.Add("fbackYB", 0, 1, Linear, nil)
	s.Add("fbackZB", 0, 1, Linear, nil)
	s.Add("outXB", 0, 1, Linear, nil)
	s.Add("outYB", 0, 1, Linear, nil)
	s.Add("outZB", 0, 1, Linear, nil)
	return s
}
