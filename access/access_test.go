package access

import "testing"

func checksum(payload [10]byte) byte {
	sum := 0
	for i := 1; i < 10; i++ {
		sum += int(payload[i])
	}
	return byte(sum % 256)
}

func TestPackCCTChecksum(t *testing.T) {
	out := PackCCT(CCTParams{Intensity: 100, Kelvin: 5600})
	if out[0] != checksum(out) {
		t.Fatalf("byte[0] = %#x, want checksum %#x", out[0], checksum(out))
	}
}

func TestPackCCTIntensityClamped(t *testing.T) {
	over := PackCCT(CCTParams{Intensity: 250, Kelvin: 3200})
	under := PackCCT(CCTParams{Intensity: -50, Kelvin: 3200})
	// intensity occupies the last 10 bits before command_type/terminator;
	// rather than re-deriving bit offsets here, check indirectly: an
	// intensity of 250% and 100% must pack identically once clamped.
	clampedHigh := PackCCT(CCTParams{Intensity: 100, Kelvin: 3200})
	if over != clampedHigh {
		t.Fatalf("intensity 250%% not clamped to 100%%: %x != %x", over, clampedHigh)
	}
	clampedLow := PackCCT(CCTParams{Intensity: 0, Kelvin: 3200})
	if under != clampedLow {
		t.Fatalf("intensity -50%% not clamped to 0%%: %x != %x", under, clampedLow)
	}
}

func TestPackCCTKelvinClampAndFold(t *testing.T) {
	// Below the 1800K floor (180 in cct units) and above the 20000K
	// ceiling (2000 in cct units) both clamp.
	low := PackCCT(CCTParams{Intensity: 50, Kelvin: 100})
	lowClamped := PackCCT(CCTParams{Intensity: 50, Kelvin: 1800})
	if low != lowClamped {
		t.Fatalf("low kelvin not clamped: %x != %x", low, lowClamped)
	}
	high := PackCCT(CCTParams{Intensity: 50, Kelvin: 99999})
	highClamped := PackCCT(CCTParams{Intensity: 50, Kelvin: 20000})
	if high != highClamped {
		t.Fatalf("high kelvin not clamped: %x != %x", high, highClamped)
	}
	// 11000K -> cct=1100 > 1000, so cct_high folds in; distinct from a
	// sub-10000K value that takes the same branch with cct_high=0.
	folded := PackCCT(CCTParams{Intensity: 50, Kelvin: 11000})
	unfolded := PackCCT(CCTParams{Intensity: 50, Kelvin: 1000})
	if folded == unfolded {
		t.Fatalf("cct_high fold did not change output: %x == %x", folded, unfolded)
	}
}

func TestPackHSIDefaultsKelvin(t *testing.T) {
	withZero := PackHSI(HSIParams{Intensity: 80, Hue: 200, Saturation: 50})
	withExplicit := PackHSI(HSIParams{Intensity: 80, Hue: 200, Saturation: 50, Kelvin: 5600})
	if withZero != withExplicit {
		t.Fatalf("zero Kelvin didn't default to 5600K: %x != %x", withZero, withExplicit)
	}
}

func TestPackHSIHueSaturationClamped(t *testing.T) {
	over := PackHSI(HSIParams{Intensity: 50, Hue: 720, Saturation: 150, Kelvin: 5600})
	clamped := PackHSI(HSIParams{Intensity: 50, Hue: 360, Saturation: 100, Kelvin: 5600})
	if over != clamped {
		t.Fatalf("hue/saturation not clamped: %x != %x", over, clamped)
	}
}

func TestPackSleep(t *testing.T) {
	on := PackSleep(true)
	off := PackSleep(false)
	if on == off {
		t.Fatal("sleep on/off packed identically")
	}
	if on[0] != checksum(on) || off[0] != checksum(off) {
		t.Fatal("sleep payload checksum mismatch")
	}
}

func TestPackEffectUnknownFallsBackToOff(t *testing.T) {
	off := PackEffect(EffectOff, EffectParams{})
	unknown := PackEffect(EffectType(99), EffectParams{})
	if off != unknown {
		t.Fatalf("unknown effect type didn't pack as Effect Off: %x != %x", unknown, off)
	}
}

func TestPackEffectSimpleFamilyDistinctEffectTypes(t *testing.T) {
	tv := PackEffect(EffectTV, EffectParams{Intensity: 60, Kelvin: 3200, Frequency: 5})
	candle := PackEffect(EffectCandle, EffectParams{Intensity: 60, Kelvin: 3200, Frequency: 5})
	fire := PackEffect(EffectFire, EffectParams{Intensity: 60, Kelvin: 3200, Frequency: 5})
	if tv == candle || candle == fire || tv == fire {
		t.Fatalf("simple color effects did not differ by effect_type: tv=%x candle=%x fire=%x", tv, candle, fire)
	}
	for name, out := range map[string][10]byte{"tv": tv, "candle": candle, "fire": fire} {
		if out[0] != checksum(out) {
			t.Fatalf("%s: checksum mismatch", name)
		}
	}
}

func TestPackEffectStrobeModeSwitchesLayout(t *testing.T) {
	cctMode := PackEffect(EffectStrobe, EffectParams{Intensity: 80, Kelvin: 4000, Mode: ModeCCT})
	hsiMode := PackEffect(EffectStrobe, EffectParams{Intensity: 80, Kelvin: 4000, Hue: 10, Saturation: 50, Mode: ModeHSI})
	if cctMode == hsiMode {
		t.Fatal("CCT and HSI strobe modes packed identically")
	}
	if cctMode[0] != checksum(cctMode) || hsiMode[0] != checksum(hsiMode) {
		t.Fatal("strobe checksum mismatch")
	}
}

func TestPackEffectWeldingMinVal(t *testing.T) {
	a := PackEffect(EffectWelding, EffectParams{Intensity: 40, Kelvin: 3200, MinVal: 10})
	b := PackEffect(EffectWelding, EffectParams{Intensity: 40, Kelvin: 3200, MinVal: 60})
	if a == b {
		t.Fatal("welding min_val did not affect output")
	}
}

func TestPackEffectCopCarColor(t *testing.T) {
	a := PackEffect(EffectCopCar, EffectParams{Intensity: 50, Color: 1, Frequency: 3})
	b := PackEffect(EffectCopCar, EffectParams{Intensity: 50, Color: 9, Frequency: 3})
	if a == b {
		t.Fatal("cop car color did not affect output")
	}
}

func TestPackEffectDefaultSleepIsOn(t *testing.T) {
	def := PackEffect(EffectFire, EffectParams{Intensity: 50, Kelvin: 3200})
	sleepOn := true
	explicit := PackEffect(EffectFire, EffectParams{Intensity: 50, Kelvin: 3200, Sleep: &sleepOn})
	if def != explicit {
		t.Fatalf("default effect sleep_mode isn't 1: %x != %x", def, explicit)
	}
}

func TestEveryEffectFamilyProducesValidChecksum(t *testing.T) {
	families := []EffectType{
		EffectPaparazzi, EffectLightning, EffectTV, EffectCandle, EffectFire,
		EffectStrobe, EffectExplosion, EffectFaultyBulb, EffectPulsing,
		EffectWelding, EffectCopCar, EffectParty, EffectFireworks, EffectOff,
	}
	for _, f := range families {
		out := PackEffect(f, EffectParams{Intensity: 70, Kelvin: 4000, Hue: 120, Saturation: 60, Frequency: 7})
		if out[0] != checksum(out) {
			t.Fatalf("effect type %d: checksum mismatch: %x", f, out)
		}
	}
}
