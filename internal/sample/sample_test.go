package sample

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	rpperrors "github.com/davidkant/rpp/internal/errors"
	"github.com/davidkant/rpp/internal/params"
)

func TestDefaults(t *testing.T) {
	rp := DefaultRenderParams()
	if rp.RenderID != "00" || rp.Folder != "~" || rp.Filename != "sample" || rp.Duration != 20 || rp.Wait != 0 {
		t.Fatalf("unexpected defaults %+v", rp)
	}
	if rp.WavName() != "sample.wav" {
		t.Fatalf("unexpected wav name %s", rp.WavName())
	}
}

func TestCSVPaths(t *testing.T) {
	dir := t.TempDir()
	rp := RenderParams{Folder: dir, Filename: "take"}
	display, data := rp.CSVPaths()
	if display != filepath.Join(dir, "take.csv") || data != filepath.Join(dir, "take_data.csv") {
		t.Fatalf("unexpected paths %s %s", display, data)
	}

	t.Setenv("HOME", dir)
	rp.Folder = "~/renders"
	display, _ = rp.CSVPaths()
	if display != filepath.Join(dir, "renders", "take.csv") {
		t.Fatalf("home not expanded: %s", display)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	synth := params.DefaultQuad(nil)
	if err := synth.SetAll("koscR", 7.5); err != nil {
		t.Fatal(err)
	}
	s := New(TopologyFeedbackQuad, RenderParams{RenderID: "42", Folder: "/tmp", Filename: "x", Duration: 3, Wait: 0.5}, synth)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"topology":"feedback_quad"`, `"render_params":{"render_id":"42"`, `"synth_params":[{"kosc_r":7.5`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("missing %s in %s", key, data)
		}
	}

	var back Sample
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != s {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func TestUnmarshalMissingKey(t *testing.T) {
	data, _ := json.Marshal(Default())
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"topology", "render_params", "synth_params"} {
		partial := make(map[string]json.RawMessage, len(rec))
		for k, v := range rec {
			if k != key {
				partial[k] = v
			}
		}
		raw, _ := json.Marshal(partial)
		var s Sample
		if err := json.Unmarshal(raw, &s); !errors.Is(err, rpperrors.ErrMissingField) {
			t.Fatalf("missing %s: expected missing field, got %v", key, err)
		}
	}
}

func TestStream(t *testing.T) {
	a := Default()
	b := Default()
	b.RenderParams.Filename = "second"

	var buf bytes.Buffer
	if err := Encode(&buf, a, b); err != nil {
		t.Fatalf("encode: %v", err)
	}
	// files written by older tooling have no separator between objects
	concatenated := strings.ReplaceAll(buf.String(), "\n", "")

	samples, err := Decode(strings.NewReader(concatenated))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 2 || samples[0] != a || samples[1] != b {
		t.Fatalf("unexpected samples %+v", samples)
	}

	if _, err := Decode(strings.NewReader(`{"topology":"x"}`)); !errors.Is(err, rpperrors.ErrMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
}
