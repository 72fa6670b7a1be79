package bridge

import "lumenmesh.dev/effect"

// This file defines the Go struct shape of every inbound command and
// outbound event in spec.md §6. The bridge package never decodes JSON
// itself (that's the embedding application's job, against whatever
// control channel it owns) but these json tags are the documented
// wire contract an embedder's decoder targets.

type SetKeysCommand struct {
	NetworkKey string `json:"network_key"`
	AppKey     string `json:"app_key"`
	IVIndex    uint32 `json:"iv_index"`
	SrcAddress uint16 `json:"src_address,omitempty"`
}

type AddLightCommand struct {
	ID      string `json:"id"`
	Unicast uint16 `json:"unicast"`
	Name    string `json:"name,omitempty"`
}

type ConnectCommand struct {
	Unicast uint16 `json:"unicast"`
}

type DisconnectCommand struct {
	Unicast uint16 `json:"unicast"`
}

type SetCCTCommand struct {
	Unicast   uint16  `json:"unicast"`
	Intensity float64 `json:"intensity"`
	CCTKelvin int     `json:"cct_kelvin"`
	SleepMode *int    `json:"sleep_mode,omitempty"`
}

type SetHSICommand struct {
	Unicast    uint16  `json:"unicast"`
	Intensity  float64 `json:"intensity"`
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	CCTKelvin  int     `json:"cct_kelvin,omitempty"`
	SleepMode  *int    `json:"sleep_mode,omitempty"`
}

type SleepCommand struct {
	Unicast uint16 `json:"unicast"`
	On      bool   `json:"on"`
}

type SetEffectCommand struct {
	Unicast     uint16  `json:"unicast"`
	EffectType  int     `json:"effect_type"`
	Intensity   float64 `json:"intensity,omitempty"`
	Frequency   int     `json:"frequency,omitempty"`
	CCTKelvin   int     `json:"cct_kelvin,omitempty"`
	CopCarColor int     `json:"cop_car_color,omitempty"`
	EffectMode  int     `json:"effect_mode,omitempty"`
	Hue         float64 `json:"hue,omitempty"`
	Saturation  float64 `json:"saturation,omitempty"`
}

// EffectParams is the wire shape of a software effect's parameter
// record, covering every field used by any of the eleven engines.
type EffectParams struct {
	Intensity  float64 `json:"intensity,omitempty"`
	Frequency  int     `json:"frequency,omitempty"`
	ColorMode  string  `json:"color_mode,omitempty"` // "cct" (default) or "hsi"
	CCTKelvin  int     `json:"cct_kelvin,omitempty"`
	Hue        float64 `json:"hue,omitempty"`
	Saturation float64 `json:"saturation,omitempty"`

	PulsingShape float64 `json:"pulsing_shape,omitempty"`
	PulsingMin   float64 `json:"pulsing_min,omitempty"`
	PulsingMax   float64 `json:"pulsing_max,omitempty"`

	StrobeHz float64 `json:"strobe_hz,omitempty"`

	PartyColors     []float64 `json:"party_colors,omitempty"`
	PartyColorIndex int       `json:"party_color_index,omitempty"`
	PartyTransition float64   `json:"party_transition,omitempty"`
	PartyHueBias    float64   `json:"party_hue_bias,omitempty"`

	FaultyMin        float64 `json:"faulty_min,omitempty"`
	FaultyMax        float64 `json:"faulty_max,omitempty"`
	FaultyPoints     int     `json:"faulty_points,omitempty"`
	FaultyBias       float64 `json:"faulty_bias,omitempty"`
	FaultyRecovery   float64 `json:"faulty_recovery,omitempty"`
	FaultyTransition float64 `json:"faulty_transition,omitempty"`
	FaultyFrequency  float64 `json:"faulty_frequency,omitempty"`
	FaultyWarmKelvin int     `json:"faulty_warm_kelvin,omitempty"`
	FaultyWarmth     float64 `json:"faulty_warmth,omitempty"`
}

func (p EffectParams) toEngine() effect.Params {
	mode := effect.ModeCCT
	if p.ColorMode == "hsi" {
		mode = effect.ModeHSI
	}
	return effect.Params{
		Intensity:        p.Intensity,
		Frequency:        p.Frequency,
		ColorMode:        mode,
		Kelvin:           p.CCTKelvin,
		Hue:              p.Hue,
		Saturation:       p.Saturation,
		PulsingShape:     p.PulsingShape,
		PulsingMin:       p.PulsingMin,
		PulsingMax:       p.PulsingMax,
		StrobeHz:         p.StrobeHz,
		PartyColors:      p.PartyColors,
		PartyColorIndex:  p.PartyColorIndex,
		PartyTransition:  p.PartyTransition,
		PartyHueBias:     p.PartyHueBias,
		FaultyMin:        p.FaultyMin,
		FaultyMax:        p.FaultyMax,
		FaultyPoints:     p.FaultyPoints,
		FaultyBias:       p.FaultyBias,
		FaultyRecovery:   p.FaultyRecovery,
		FaultyTransition: p.FaultyTransition,
		FaultyFrequency:  p.FaultyFrequency,
		FaultyWarmKelvin: p.FaultyWarmKelvin,
		FaultyWarmth:     p.FaultyWarmth,
	}
}

type StartEffectCommand struct {
	Unicast uint16       `json:"unicast"`
	Engine  string       `json:"engine"`
	Preset  string       `json:"preset,omitempty"`
	Params  EffectParams `json:"params,omitempty"`
}

type UpdateEffectCommand struct {
	Unicast uint16       `json:"unicast"`
	Preset  string       `json:"preset,omitempty"`
	Params  EffectParams `json:"params,omitempty"`
}

type StopEffectCommand struct {
	Unicast uint16 `json:"unicast"`
}

type StopAllCommand struct{}

// ReadyEvent is published once, in response to a successful set_keys.
type ReadyEvent struct {
	Version   string `json:"version"`
	MaxLights int    `json:"max_lights"`
}

// LightStatusEvent is published on every connect/disconnect.
type LightStatusEvent struct {
	Unicast   uint16 `json:"unicast"`
	Connected bool   `json:"connected"`
}

// ErrorEvent is published for every dropped or failed command.
type ErrorEvent struct {
	Message string `json:"message"`
}
