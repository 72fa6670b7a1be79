// package access translates logical fixture commands (set a colour,
// start a hardware effect, sleep) into the bit-packed 10-byte payload
// a fixture's access-layer firmware expects.
//
// Every packer here is a pure function: given the same parameters it
// always produces the same bytes, which lets the package's tests pin
// exact wire output instead of only checking shape.
package access

import "math"

// Opcode is the fixed access-message opcode byte; prepending it to a
// packed 10-byte payload yields the 11-byte access message.
const Opcode = 0x26

// EffectType identifies the effect family a fixture's firmware
// understands at the access-message level (distinct from the
// software effect engine's own effect variants in package effect,
// though many share a name).
type EffectType int

const (
	EffectPaparazzi  EffectType = 1
	EffectLightning  EffectType = 2
	EffectTV         EffectType = 3
	EffectCandle     EffectType = 4
	EffectFire       EffectType = 5
	EffectStrobe     EffectType = 6
	EffectExplosion  EffectType = 7
	EffectFaultyBulb EffectType = 8
	EffectPulsing    EffectType = 9
	EffectWelding    EffectType = 10
	EffectCopCar     EffectType = 11
	EffectParty      EffectType = 13
	EffectFireworks  EffectType = 14
	EffectOff        EffectType = 15
)

// ColorMode selects whether an effect schedule that supports both
// renders its colour as a CCT or an HSI field set.
type ColorMode int

const (
	ModeCCT ColorMode = iota
	ModeHSI
)

const (
	commandTypeHSI   = 1
	commandTypeCCT   = 2
	commandTypeSleep = 12
)

// Fixed constants from spec.md §4.1: the gain/modulation fields are
// never exposed to callers, and a handful of effect-only fields fall
// back to documented defaults when a schedule doesn't expose them.
const (
	gmFlag        = 0
	gmHigh        = 0
	gmValue       = 10 // round(100/10)
	defaultSpeed  = 8
	defaultTrig   = 2
	defaultMinVal = 0
	defaultTypeVl = 0
)

// cursor packs fields into an 80-bit window, MSB-first per field then
// bit-reversed in place, per spec.md §4.1's shared bit-packing
// algorithm.
type cursor struct {
	bits [80]bool
	pos  int
}

// write appends a width-bit field (MSB of value written first, then
// the whole width-bit window is reversed in place).
func (c *cursor) write(value uint64, width int) {
	start := c.pos
	for i := 0; i < width; i++ {
		bit := (value >> uint(width-1-i)) & 1
		c.bits[start+i] = bit != 0
	}
	for i, j := start, start+width-1; i < j; i, j = i+1, j-1 {
		c.bits[i], c.bits[j] = c.bits[j], c.bits[i]
	}
	c.pos += width
}

// bit appends a single 1-bit field without needing a full write call.
func (c *cursor) bit(v int) {
	c.write(uint64(v), 1)
}

// finalize packs the 80-bit window into 10 bytes (bit 8i+k has weight
// 2^k within byte i) and overwrites byte 0 with the checksum over the
// remaining nine bytes.
func (c *cursor) finalize() [10]byte {
	if c.pos != 80 {
		panic("access: field schedule did not total 80 bits")
	}
	var out [10]byte
	for i := 0; i < 10; i++ {
		var b byte
		for k := 0; k < 8; k++ {
			if c.bits[8*i+k] {
				b |= 1 << uint(k)
			}
		}
		out[i] = b
	}
	sum := 0
	for i := 1; i < 10; i++ {
		sum += int(out[i])
	}
	out[0] = byte(sum % 256)
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// packIntensity clamps an intensity percentage (0-100) into the
// fixture's 0-1000 fixed-point field.
func packIntensity(percent float64) int {
	return clampInt(int(math.Round(percent*10)), 0, 1000)
}

func packHue(hue float64) int {
	return clampInt(int(math.Round(hue)), 0, 360)
}

func packSaturation(sat float64) int {
	return clampInt(int(math.Round(sat)), 0, 100)
}

func packFrequency(freq int) int {
	return clampInt(freq, 0, 15)
}

// cctCCT computes the CCT-mode cct_value/cct_high pair for a Kelvin
// value: cct = kelvin/10 clamped into [180, 2000]; values above 1000
// (i.e. cct*10 > 10000) fold into the high range with cct_high set.
func cctCCT(kelvin int) (value, high int) {
	cct := clampInt(kelvin/10, 180, 2000)
	scaled := cct * 10
	if scaled > 10000 {
		return (scaled - 10000) / 10, 1
	}
	return scaled / 10, 0
}

// cctHSI computes the HSI-mode cct_value_hsi/cct_high pair for a
// Kelvin value: cct = kelvin/50, folding the same way as cctCCT but
// with a 50-unit divisor (an 8-bit field instead of 10-bit).
func cctHSI(kelvin int) (value, high int) {
	cct := kelvin / 50
	scaled := cct * 50
	if scaled > 10000 {
		return (scaled - 10000) / 50, 1
	}
	return scaled / 50, 0
}

// CCTParams holds the parameters of a "set CCT" command (access
// command_type 2).
type CCTParams struct {
	Intensity float64 // percent, 0-100
	Kelvin    int
	Sleep     bool
}

// PackCCT builds the CCT access payload (spec.md §4.1's CCT schedule).
func PackCCT(p CCTParams) [10]byte {
	cctValue, cctHigh := cctCCT(p.Kelvin)
	intensity := packIntensity(p.Intensity)

	var c cursor
	c.write(0, 8) // reserved
	c.bit(boolBit(p.Sleep))
	c.write(0, 20) // reserved
	c.write(0, 12) // reserved
	c.bit(0)       // auto_patch
	c.bit(cctHigh)
	c.bit(gmFlag)
	c.bit(gmHigh)
	c.write(uint64(gmValue), 7)
	c.write(uint64(cctValue), 10)
	c.write(uint64(intensity), 10)
	c.write(commandTypeCCT, 7)
	c.bit(1)
	return c.finalize()
}

// HSIParams holds the parameters of a "set HSI" command (access
// command_type 1).
type HSIParams struct {
	Intensity  float64
	Hue        float64
	Saturation float64
	Kelvin     int // defaults to 5600 if zero, per spec.md §6's set_hsi.
	Sleep      bool
}

// PackHSI builds the HSI access payload (spec.md §4.1's HSI schedule).
func PackHSI(p HSIParams) [10]byte {
	kelvin := p.Kelvin
	if kelvin == 0 {
		kelvin = 5600
	}
	cctValue, cctHigh := cctHSI(kelvin)
	intensity := packIntensity(p.Intensity)
	hue := packHue(p.Hue)
	sat := packSaturation(p.Saturation)

	var c cursor
	c.write(0, 8) // reserved
	c.bit(boolBit(p.Sleep))
	c.write(0, 18) // reserved
	c.bit(0)       // auto_patch
	c.bit(cctHigh)
	c.bit(gmFlag)
	c.bit(gmHigh)
	c.write(uint64(gmValue), 7)
	c.write(uint64(cctValue), 8)
	c.write(uint64(sat), 7)
	c.write(uint64(hue), 9)
	c.write(uint64(intensity), 10)
	c.write(commandTypeHSI, 7)
	c.bit(1)
	return c.finalize()
}

// PackSleep builds the "put the fixture to sleep" access payload
// (access command_type 12), on selects whether sleep mode is entered
// (1) or exited (0).
func PackSleep(on bool) [10]byte {
	var c cursor
	c.write(0, 8) // reserved
	c.bit(boolBit(on))
	c.write(0, 20) // reserved
	c.write(0, 12) // reserved
	c.bit(0)
	c.bit(0)
	c.bit(0)
	c.bit(0)
	c.write(0, 7)
	c.write(0, 10)
	c.write(0, 10)
	c.write(commandTypeSleep, 7)
	c.bit(1)
	return c.finalize()
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EffectParams is the superset of fields used by the fourteen effect
// access-message types. Fields not meaningful to a given family
// are ignored.
type EffectParams struct {
	Intensity  float64
	Frequency  int
	Kelvin     int
	Hue        float64
	Saturation float64
	Mode       ColorMode
	Speed      int // Lightning/FaultyBulb/Pulsing "speed" field; 0 means use the spec default (8).
	Trigger    int // defaults to 2 when 0.
	MinVal     int // Welding "min_val" field; defaults to 0.
	TypeVal    int // Fireworks "type_val" field; defaults to 0.
	Color      int // CopCar "color" field, 0-15.
	Sleep      *bool
}

func (p EffectParams) sleep() bool {
	if p.Sleep == nil {
		return true // spec.md §4.1: sleep_mode=1 (effects) is the default.
	}
	return *p.Sleep
}

func (p EffectParams) speed() int {
	if p.Speed == 0 {
		return defaultSpeed
	}
	return p.Speed
}

func (p EffectParams) trigger() int {
	if p.Trigger == 0 {
		return defaultTrig
	}
	return p.Trigger
}

// PackEffect builds the access payload for effectType with params.
// An unrecognized effectType packs as Effect Off, per spec.md §4.1
// ("An unknown effect type is encoded as Effect Off").
func PackEffect(effectType EffectType, p EffectParams) [10]byte {
	switch effectType {
	case EffectTV, EffectCandle, EffectFire:
		return packSimpleColorEffect(effectType, p)
	case EffectPaparazzi:
		return packPaparazzi(p)
	case EffectLightning:
		return packLightning(p)
	case EffectCopCar:
		return packCopCar(p)
	case EffectParty:
		return packParty(p)
	case EffectFireworks:
		return packFireworks(p)
	case EffectStrobe, EffectExplosion:
		return packStrobeExplosion(effectType, p)
	case EffectFaultyBulb, EffectPulsing:
		return packFaultyBulbPulsing(effectType, p)
	case EffectWelding:
		return packWelding(p)
	case EffectOff:
		return packEffectOff()
	default:
		return packEffectOff()
	}
}

func packSimpleColorEffect(effectType EffectType, p EffectParams) [10]byte {
	cctValue, _ := cctCCT(p.Kelvin)
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 20)
	c.write(0, 11)
	c.write(uint64(cctValue), 10)
	c.write(uint64(freq), 4)
	c.write(uint64(intensity), 10)
	c.write(uint64(effectType), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packPaparazzi(p EffectParams) [10]byte {
	cctValue, cctHigh := cctCCT(p.Kelvin)
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 20)
	c.bit(0)
	c.bit(cctHigh)
	c.bit(gmFlag)
	c.bit(gmHigh)
	c.write(uint64(gmValue), 7)
	c.write(uint64(cctValue), 10)
	c.write(uint64(freq), 4)
	c.write(uint64(intensity), 10)
	c.write(uint64(EffectPaparazzi), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packLightning(p EffectParams) [10]byte {
	cctValue, cctHigh := cctCCT(p.Kelvin)
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 15)
	c.bit(cctHigh)
	c.bit(gmFlag)
	c.bit(gmHigh)
	c.write(uint64(p.speed()), 4)
	c.write(uint64(p.trigger()), 2)
	c.write(uint64(gmValue), 7)
	c.write(uint64(cctValue), 10)
	c.write(uint64(freq), 4)
	c.write(uint64(intensity), 10)
	c.write(uint64(EffectLightning), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packCopCar(p EffectParams) [10]byte {
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 20)
	c.write(0, 17)
	c.write(uint64(clampInt(p.Color, 0, 15)), 4)
	c.write(uint64(freq), 4)
	c.write(uint64(intensity), 10)
	c.write(uint64(EffectCopCar), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packParty(p EffectParams) [10]byte {
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)
	sat := packSaturation(p.Saturation)

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 20)
	c.write(0, 14)
	c.write(uint64(sat), 7)
	c.write(uint64(freq), 4)
	c.write(uint64(intensity), 10)
	c.write(uint64(EffectParty), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packFireworks(p EffectParams) [10]byte {
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)
	typeVal := p.TypeVal
	if typeVal == 0 {
		typeVal = defaultTypeVl
	}

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 20)
	c.write(0, 13)
	c.write(uint64(typeVal), 8)
	c.write(uint64(freq), 4)
	c.write(uint64(intensity), 10)
	c.write(uint64(EffectFireworks), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packStrobeExplosion(effectType EffectType, p EffectParams) [10]byte {
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	if p.Mode == ModeHSI {
		cctValue, cctHigh := cctHSI(p.Kelvin)
		sat := packSaturation(p.Saturation)
		hue := packHue(p.Hue)
		c.bit(0)
		c.bit(cctHigh)
		c.bit(gmFlag)
		c.bit(gmHigh)
		c.write(uint64(p.trigger()), 2)
		c.write(uint64(gmValue), 7)
		c.write(uint64(cctValue), 8)
		c.write(uint64(sat), 7)
		c.write(uint64(hue), 9)
	} else {
		cctValue, cctHigh := cctCCT(p.Kelvin)
		c.write(0, 15)
		c.bit(cctHigh)
		c.bit(gmFlag)
		c.bit(gmHigh)
		c.write(uint64(p.trigger()), 2)
		c.write(uint64(gmValue), 7)
		c.write(uint64(cctValue), 10)
	}
	c.write(uint64(intensity), 10)
	c.write(uint64(freq), 4)
	c.write(uint64(modeValue(p.Mode)), 4)
	c.write(uint64(effectType), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packFaultyBulbPulsing(effectType EffectType, p EffectParams) [10]byte {
	cctValue, cctHigh := cctCCT(p.Kelvin)
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 11)
	c.bit(cctHigh)
	c.bit(gmFlag)
	c.bit(gmHigh)
	c.write(uint64(p.speed()), 4)
	c.write(uint64(p.trigger()), 2)
	c.write(uint64(gmValue), 7)
	c.write(uint64(cctValue), 10)
	c.write(uint64(intensity), 10)
	c.write(uint64(freq), 4)
	c.write(uint64(modeValue(p.Mode)), 4)
	c.write(uint64(effectType), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packWelding(p EffectParams) [10]byte {
	cctValue, cctHigh := cctCCT(p.Kelvin)
	intensity := packIntensity(p.Intensity)
	freq := packFrequency(p.Frequency)
	minVal := p.MinVal
	if minVal == 0 {
		minVal = defaultMinVal
	}

	var c cursor
	c.write(0, 8)
	c.bit(boolBit(p.sleep()))
	c.write(0, 8)
	c.bit(cctHigh)
	c.bit(gmFlag)
	c.bit(gmHigh)
	c.write(uint64(clampInt(minVal, 0, 127)), 7)
	c.write(uint64(p.trigger()), 2)
	c.write(uint64(gmValue), 7)
	c.write(uint64(cctValue), 10)
	c.write(uint64(intensity), 10)
	c.write(uint64(freq), 4)
	c.write(uint64(modeValue(p.Mode)), 4)
	c.write(uint64(EffectWelding), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func packEffectOff() [10]byte {
	var c cursor
	c.write(0, 8)
	c.bit(0)
	c.write(0, 20)
	c.write(0, 20)
	c.write(0, 15)
	c.write(uint64(EffectOff), 8)
	c.write(7, 7)
	c.bit(1)
	return c.finalize()
}

func modeValue(m ColorMode) int {
	if m == ModeHSI {
		return 1
	}
	return 0
}
