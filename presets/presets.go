// package presets implements a small CBOR-encoded library mapping a
// preset name to a full effect parameter record, loaded once at
// startup and consulted by the command dispatcher's start_effect and
// update_effect handlers.
package presets

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"lumenmesh.dev/effect"
)

// record is the CBOR wire shape of a single named preset.
type record struct {
	Intensity  float64 `cbor:"intensity"`
	Frequency  int     `cbor:"frequency"`
	ColorMode  string  `cbor:"color_mode"`
	CCTKelvin  int     `cbor:"cct_kelvin"`
	Hue        float64 `cbor:"hue"`
	Saturation float64 `cbor:"saturation"`

	PulsingShape float64 `cbor:"pulsing_shape"`
	PulsingMin   float64 `cbor:"pulsing_min"`
	PulsingMax   float64 `cbor:"pulsing_max"`

	StrobeHz float64 `cbor:"strobe_hz"`

	PartyColors     []float64 `cbor:"party_colors"`
	PartyColorIndex int       `cbor:"party_color_index"`
	PartyTransition float64   `cbor:"party_transition"`
	PartyHueBias    float64   `cbor:"party_hue_bias"`

	FaultyMin        float64 `cbor:"faulty_min"`
	FaultyMax        float64 `cbor:"faulty_max"`
	FaultyPoints     int     `cbor:"faulty_points"`
	FaultyBias       float64 `cbor:"faulty_bias"`
	FaultyRecovery   float64 `cbor:"faulty_recovery"`
	FaultyTransition float64 `cbor:"faulty_transition"`
	FaultyFrequency  float64 `cbor:"faulty_frequency"`
	FaultyWarmKelvin int     `cbor:"faulty_warm_kelvin"`
	FaultyWarmth     float64 `cbor:"faulty_warmth"`
}

func (r record) toParams() effect.Params {
	mode := effect.ModeCCT
	if r.ColorMode == "hsi" {
		mode = effect.ModeHSI
	}
	return effect.Params{
		Intensity:        r.Intensity,
		Frequency:        r.Frequency,
		ColorMode:        mode,
		Kelvin:           r.CCTKelvin,
		Hue:              r.Hue,
		Saturation:       r.Saturation,
		PulsingShape:     r.PulsingShape,
		PulsingMin:       r.PulsingMin,
		PulsingMax:       r.PulsingMax,
		StrobeHz:         r.StrobeHz,
		PartyColors:      r.PartyColors,
		PartyColorIndex:  r.PartyColorIndex,
		PartyTransition:  r.PartyTransition,
		PartyHueBias:     r.PartyHueBias,
		FaultyMin:        r.FaultyMin,
		FaultyMax:        r.FaultyMax,
		FaultyPoints:     r.FaultyPoints,
		FaultyBias:       r.FaultyBias,
		FaultyRecovery:   r.FaultyRecovery,
		FaultyTransition: r.FaultyTransition,
		FaultyFrequency:  r.FaultyFrequency,
		FaultyWarmKelvin: r.FaultyWarmKelvin,
		FaultyWarmth:     r.FaultyWarmth,
	}
}

// Library is an in-memory, read-only set of named effect presets.
type Library struct {
	presets map[string]effect.Params
}

// Load reads and decodes a CBOR-encoded map of preset name to
// parameter record from path.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("presets: %w", err)
	}
	return Parse(data)
}

// Parse decodes a CBOR-encoded preset map from data directly, without
// touching the filesystem.
func Parse(data []byte) (*Library, error) {
	var raw map[string]record
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("presets: decode: %w", err)
	}
	lib := &Library{presets: make(map[string]effect.Params, len(raw))}
	for name, r := range raw {
		lib.presets[name] = r.toParams()
	}
	return lib, nil
}

// Lookup resolves name to its effect parameter record. It satisfies
// bridge.PresetLookup.
func (l *Library) Lookup(name string) (effect.Params, bool) {
	p, ok := l.presets[name]
	return p, ok
}

// Names returns every preset name in the library, in no particular
// order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.presets))
	for n := range l.presets {
		names = append(names, n)
	}
	return names
}
