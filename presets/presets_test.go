package presets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"lumenmesh.dev/effect"
)

func TestParseAndLookup(t *testing.T) {
	raw := map[string]record{
		"warm-candle": {Intensity: 45, Frequency: 6, ColorMode: "cct", CCTKelvin: 2700},
		"disco-party": {
			Intensity:       80,
			Frequency:       8,
			ColorMode:       "hsi",
			PartyColors:     []float64{0, 120, 240},
			PartyTransition: 30,
		},
	}
	data, err := cbor.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	lib, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := lib.Lookup("warm-candle")
	if !ok {
		t.Fatal("warm-candle not found")
	}
	if p.Intensity != 45 || p.Kelvin != 2700 || p.ColorMode != effect.ModeCCT {
		t.Fatalf("warm-candle = %+v", p)
	}
	party, ok := lib.Lookup("disco-party")
	if !ok {
		t.Fatal("disco-party not found")
	}
	if party.ColorMode != effect.ModeHSI || len(party.PartyColors) != 3 {
		t.Fatalf("disco-party = %+v", party)
	}
	if _, ok := lib.Lookup("nonexistent"); ok {
		t.Fatal("lookup succeeded for a preset that was never defined")
	}
}

func TestLoadFromFile(t *testing.T) {
	raw := map[string]record{
		"strobe-fast": {Intensity: 100, StrobeHz: 12},
	}
	data, err := cbor.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "presets.cbor")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	lib, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := lib.Lookup("strobe-fast")
	if !ok || p.StrobeHz != 12 {
		t.Fatalf("strobe-fast = %+v, ok=%v", p, ok)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.cbor")); err == nil {
		t.Fatal("want error loading a nonexistent file")
	}
}

func TestParseMalformedDataFails(t *testing.T) {
	if _, err := Parse([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("want error decoding malformed CBOR")
	}
}

func TestNames(t *testing.T) {
	raw := map[string]record{"a": {}, "b": {}}
	data, err := cbor.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	lib, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	names := lib.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
}
