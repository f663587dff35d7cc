// Package params models the fixed parameter sets sent to the feedback
// synthesis topology.
package params

const (
	// NumFields is the number of scalar parameters in one voice.
	NumFields = 24
	// NumVoices is the number of parallel voices in a quad.
	NumVoices = 4

	GroupFeedback = "fback_scalars"
	GroupOutput   = "out_scalars"
)

// VoiceLabels name the voices of a quad at serialization boundaries.
var VoiceLabels = [NumVoices]string{"A", "B", "C", "D"}

// Field describes one parameter slot.
type Field struct {
	Name     string  // internal (camelCase) name, also the CSV data header
	Abbr     string  // display CSV header
	External string  // record key; empty for members of a group
	Group    string  // record key of the 3-vector this field belongs to
	Slot     int     // position inside Group
	Fallback float64 // hard-coded default
}

var schema = [NumFields]Field{
	{Name: "koscR", Abbr: "r  ", External: "kosc_r", Fallback: 18.6},
	{Name: "koscFreq", Abbr: "frq", External: "kosc_freq", Fallback: 0.85},
	{Name: "koscError", Abbr: "err", External: "kosc_error", Fallback: 4.0},
	{Name: "lowPassPot", Abbr: "lp", External: "lowpass_pot", Fallback: 0.85},
	{Name: "preAmpPot", Abbr: "pre", External: "preamp_pot", Fallback: 0.2},
	{Name: "powAmpPot", Abbr: "pow", External: "powamp_pot", Fallback: 0.9},
	{Name: "lfoPot", Abbr: "lfo", External: "lfo_pot", Fallback: 0.33},
	{Name: "lfoCSwitch", Abbr: "cap", External: "lfo_cswitch", Fallback: 0},
	{Name: "lfoWidth", Abbr: "wdth", External: "lfo_width", Fallback: 0.5},
	{Name: "lfoIPhase", Abbr: "phz", External: "lfo_iphase", Fallback: 0.0},
	{Name: "lfoLowPassPot", Abbr: "lp2", External: "lfo_lowpass_pot", Fallback: 0.5},
	{Name: "vactrolAttack", Abbr: "atk", External: "vactrol_attack", Fallback: 0.027},
	{Name: "vactrolDecay", Abbr: "dcy", External: "vactrol_decay", Fallback: 4.0},
	{Name: "vactrolHysteresis", Abbr: "hyst", External: "vactrol_hysteresis", Fallback: 6.0},
	{Name: "vactrolDepth", Abbr: "dpth", External: "vactrol_depth", Fallback: 2.0},
	{Name: "vactrolScalar", Abbr: "vsc", External: "vactrol_scalar", Fallback: 1.0},
	{Name: "lfoGate", Abbr: "lfx", External: "lfo_gate", Fallback: 1.0},
	{Name: "vactrolGate", Abbr: "vctx", External: "vactrol_gate", Fallback: 1.0},
	{Name: "fbackX", Abbr: "fbX", Group: GroupFeedback, Slot: 0, Fallback: 1.0},
	{Name: "fbackY", Abbr: "fbY", Group: GroupFeedback, Slot: 1, Fallback: 1.0},
	{Name: "fbackZ", Abbr: "fbZ", Group: GroupFeedback, Slot: 2, Fallback: 1.0},
	{Name: "outX", Abbr: "oX", Group: GroupOutput, Slot: 0, Fallback: 1.0},
	{Name: "outY", Abbr: "oY", Group: GroupOutput, Slot: 1, Fallback: 1.0},
	{Name: "outZ", Abbr: "oZ", Group: GroupOutput, Slot: 2, Fallback: 1.0},
}

// groupNames maps record group keys to their internal names.
var groupNames = map[string]string{
	GroupFeedback: "fbackScalars",
	GroupOutput:   "outScalars",
}

var (
	fieldIndex   = make(map[string]int, NumFields)
	toExternal   = make(map[string]string, NumFields)
	toInternal   = make(map[string]string, NumFields)
	groupMembers = make(map[string][3]int, len(groupNames))
)

func init() {
	for i, f := range schema {
		fieldIndex[f.Name] = i
		if f.Group != "" {
			members := groupMembers[f.Group]
			members[f.Slot] = i
			groupMembers[f.Group] = members
			continue
		}
		toExternal[f.Name] = f.External
		toInternal[f.External] = f.Name
	}
	for external, internal := range groupNames {
		toExternal[internal] = external
		toInternal[external] = internal
	}
}

// Fields returns the schema in field order.
func Fields() []Field {
	out := make([]Field, NumFields)
	copy(out, schema[:])
	return out
}

// Names returns the internal field names in field order.
func Names() []string {
	out := make([]string, NumFields)
	for i, f := range schema {
		out[i] = f.Name
	}
	return out
}

// Abbreviations returns the display headers in field order.
func Abbreviations() []string {
	out := make([]string, NumFields)
	for i, f := range schema {
		out[i] = f.Abbr
	}
	return out
}

// ExternalName translates an internal name to its record key. Names outside
// the translation table are returned unchanged.
func ExternalName(name string) string {
	if ext, ok := toExternal[name]; ok {
		return ext
	}
	return name
}

// InternalName is the inverse of ExternalName.
func InternalName(key string) string {
	if name, ok := toInternal[key]; ok {
		return name
	}
	return key
}

// HasField reports whether name is a schema field.
func HasField(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}
