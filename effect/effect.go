// package effect implements the software lighting effect engine: a
// set of self-rearming one-shot timer state machines, one instance
// per unicast address with a running effect, each emitting CCT/HSI/
// sleep output on its own schedule until stopped or replaced.
package effect

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"
)

// minDelay is the smallest delay ever actually programmed on a timer;
// arming with anything shorter is clamped up to it, guarding against
// zero-delay storms.
const minDelay = 50 * time.Microsecond

// EngineType names one of the eleven software effects start_effect
// and update_effect can reference.
type EngineType string

const (
	EnginePulsing    EngineType = "pulsing"
	EngineStrobe     EngineType = "strobe"
	EngineFire       EngineType = "fire"
	EngineCandle     EngineType = "candle"
	EngineLightning  EngineType = "lightning"
	EngineTV         EngineType = "tv"
	EngineParty      EngineType = "party"
	EngineExplosion  EngineType = "explosion"
	EngineWelding    EngineType = "welding"
	EngineFaultyBulb EngineType = "faulty_bulb"
	EngineParaparazzi EngineType = "paparazzi"
)

// ColorMode selects whether an instance's output is rendered as a CCT
// or an HSI command.
type ColorMode int

const (
	ModeCCT ColorMode = iota
	ModeHSI
)

// Params is the full parameter record for a software effect instance.
// Fields not meaningful to the selected engine are ignored.
type Params struct {
	Intensity float64 // percent, 0-100
	Frequency int     // 0-15, the general step-cadence knob ("freq" in spec formulas)
	ColorMode ColorMode
	Kelvin    int
	Hue       float64
	Saturation float64

	PulsingShape float64 // 0-100, centred on 50
	PulsingMin   float64 // percent, 0-100
	PulsingMax   float64 // percent, 0-100

	StrobeHz float64

	PartyColors     []float64 // hues, degrees
	PartyColorIndex int
	PartyTransition float64 // percent of the cycle spent sweeping, 0-100
	PartyHueBias    float64 // degrees, added to every emitted hue

	FaultyMin        float64 // percent
	FaultyMax        float64 // percent
	FaultyPoints     int     // discrete levels, >= 2
	FaultyBias       float64 // percent, 0-100
	FaultyRecovery   float64 // percent, 0-100
	FaultyTransition float64 // seconds
	FaultyFrequency  float64 // event-spacing knob, independent of Frequency
	FaultyWarmKelvin int     // "warmest" Kelvin value faded toward as intensity dips
	FaultyWarmth     float64 // percent, 0-100, blend strength toward FaultyWarmKelvin
}

func (p *Params) faultyLevelValue(level int) float64 {
	n := p.FaultyPoints
	if n < 2 {
		n = 2
	}
	if level < 0 {
		level = 0
	}
	if level > n-1 {
		level = n - 1
	}
	if p.FaultyMax == p.FaultyMin {
		return p.FaultyMin
	}
	frac := float64(level) / float64(n-1)
	return p.FaultyMin + (p.FaultyMax-p.FaultyMin)*frac
}

// Output is a single emitted colour/intensity (or sleep) command from
// a running effect instance.
type Output struct {
	Unicast    uint16
	Sleep      bool
	Mode       ColorMode
	Intensity  float64 // percent, 0-100; meaningless when Sleep is true
	Kelvin     int
	Hue        float64
	Saturation float64
}

// Timer models a self-rearming one-shot timer. Arming a new callback
// first cancels and releases any previously armed one. Implementations
// must be safe for concurrent use; the real implementation wraps
// time.AfterFunc, tests can substitute a fake clock.
type Timer interface {
	Arm(d time.Duration, fn func())
	Cancel()
}

type realTimer struct {
	mu sync.Mutex
	t  *time.Timer
}

func newRealTimer() *realTimer { return &realTimer{} }

func (r *realTimer) Arm(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.t != nil {
		r.t.Stop()
	}
	r.t = time.AfterFunc(d, fn)
}

func (r *realTimer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.t != nil {
		r.t.Stop()
		r.t = nil
	}
}

// Instance is one running effect on one unicast address.
type Instance struct {
	mu sync.Mutex

	unicast uint16
	engine  EngineType
	params  Params
	running bool
	timer   Timer
	rng     *rand.Rand
	emit    func(Output)

	currentIntensity float64
	phaseTime        float64

	strobeRunning bool

	faultyLevel     int
	faultyFadeFrom  float64
	faultyFadeTo    float64
	faultyFadeStep  int
	faultyFadeTotal int

	partySweepFrom    float64
	partySweepTo      float64
	partySweepDelta   float64
	partySweepTotal   float64
	partySweepElapsed float64

	weldingArcsLeft int

	paparazziFlashSec float64
}

func (in *Instance) uniform(lo, hi float64) float64 {
	return lo + in.rng.Float64()*(hi-lo)
}

func (in *Instance) randint(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + in.rng.Intn(hi-lo+1)
}

func secDuration(s float64) time.Duration {
	if s < 0 {
		s = 0
	}
	return time.Duration(s * float64(time.Second))
}

// scheduleLocked arms step to run after d, clamped to minDelay. The
// caller must hold in.mu; the armed callback re-acquires it and is a
// no-op if the instance has been stopped in the meantime.
func (in *Instance) scheduleLocked(d time.Duration, step func(*Instance)) {
	if d < minDelay {
		d = minDelay
	}
	in.timer.Arm(d, func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		if !in.running {
			return
		}
		step(in)
	})
}

func (in *Instance) stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.running = false
	in.timer.Cancel()
}

// output emits intensityPercent in the instance's configured colour
// mode; an intensity below 1% emits a sleep command instead, per
// spec.md §4.3's pulsing "t<1 emits zero (sleep)" rule generalized to
// every effect's "go dark"/"emit zero" steps.
func (in *Instance) output(intensityPercent float64) {
	if intensityPercent < 1 {
		in.emit(Output{Unicast: in.unicast, Sleep: true})
		return
	}
	in.emit(Output{
		Unicast:    in.unicast,
		Mode:       in.params.ColorMode,
		Intensity:  intensityPercent,
		Kelvin:     in.params.Kelvin,
		Hue:        in.params.Hue,
		Saturation: in.params.Saturation,
	})
}

func (in *Instance) outputWithHue(intensityPercent, hue float64) {
	if intensityPercent < 1 {
		in.emit(Output{Unicast: in.unicast, Sleep: true})
		return
	}
	hue = math.Mod(hue, 360)
	if hue < 0 {
		hue += 360
	}
	in.emit(Output{
		Unicast:    in.unicast,
		Mode:       ModeHSI,
		Intensity:  intensityPercent,
		Hue:        hue,
		Saturation: in.params.Saturation,
		Kelvin:     in.params.Kelvin,
	})
}

func (in *Instance) outputWithKelvin(intensityPercent float64, kelvin int) {
	if intensityPercent < 1 {
		in.emit(Output{Unicast: in.unicast, Sleep: true})
		return
	}
	in.emit(Output{
		Unicast:   in.unicast,
		Mode:      ModeCCT,
		Intensity: intensityPercent,
		Kelvin:    kelvin,
	})
}

// --- Candle ---

func stepCandle(in *Instance) {
	delay := 0.15 * math.Pow(0.85, float64(in.params.Frequency)) * in.uniform(0.7, 1.3)
	intensity := in.params.Intensity * in.uniform(0.60, 1.0)
	in.output(intensity)
	in.scheduleLocked(secDuration(delay), stepCandle)
}

// --- Fire ---

func stepFire(in *Instance) {
	delay := 0.10 * math.Pow(0.85, float64(in.params.Frequency)) * in.uniform(0.5, 1.5)
	var intensity float64
	if in.rng.Float64() < 0.15 {
		intensity = in.params.Intensity
	} else {
		intensity = in.params.Intensity * in.uniform(0.15, 0.85)
	}
	in.output(intensity)
	in.scheduleLocked(secDuration(delay), stepFire)
}

// --- TV flicker ---

var tvLevels = [...]float64{0.10, 0.30, 0.50, 0.70, 0.85, 1.00}

func stepTV(in *Instance) {
	delay := 0.08 * math.Pow(0.85, float64(in.params.Frequency)) * in.uniform(0.6, 1.4)
	level := tvLevels[in.rng.Intn(len(tvLevels))]
	in.output(in.params.Intensity * level)
	in.scheduleLocked(secDuration(delay), stepTV)
}

// --- Lightning ---

func stepLightningFlash(in *Instance) {
	in.output(in.params.Intensity)
	flash := in.uniform(0.04, 0.12)
	in.scheduleLocked(secDuration(flash), stepLightningDark)
}

func stepLightningDark(in *Instance) {
	in.output(0)
	wait := 3.0 * math.Pow(0.75, float64(in.params.Frequency)) * in.uniform(0.5, 1.5)
	in.scheduleLocked(secDuration(wait), stepLightningFlash)
}

// --- Pulsing ---

func stepPulsing(in *Instance) {
	in.phaseTime += 0.03
	period := 4.0 * math.Pow(0.80, float64(in.params.Frequency))
	sine := (math.Sin(in.phaseTime*2*math.Pi/period) + 1) / 2
	shapeNorm := (in.params.PulsingShape - 50) / 50
	shaped := math.Pow(sine, math.Pow(10, -0.8*shapeNorm))
	t := in.params.PulsingMin + (in.params.PulsingMax-in.params.PulsingMin)*shaped
	in.output(t)
	in.scheduleLocked(30*time.Millisecond, stepPulsing)
}

// --- Explosion ---

func stepExplosionFlash(in *Instance) {
	in.currentIntensity = in.params.Intensity
	in.output(in.currentIntensity)
	in.scheduleLocked(40*time.Millisecond, stepExplosionDecay)
}

func stepExplosionDecay(in *Instance) {
	in.currentIntensity *= 0.88
	if in.currentIntensity < 2.0 {
		in.output(0)
		wait := 2.0 * math.Pow(0.80, float64(in.params.Frequency)) * in.uniform(0.5, 1.5)
		in.scheduleLocked(secDuration(wait), stepExplosionFlash)
		return
	}
	in.output(in.currentIntensity)
	in.scheduleLocked(40*time.Millisecond, stepExplosionDecay)
}

// --- Strobe ---

const strobeFlashDuration = 10 * time.Millisecond

func startStrobe(in *Instance) {
	in.strobeRunning = true
	in.output(0)
	in.scheduleLocked(50*time.Millisecond, stepStrobeOn)
}

func stepStrobeOn(in *Instance) {
	in.output(in.params.Intensity)
	in.scheduleLocked(strobeFlashDuration, stepStrobeOff)
}

func stepStrobeOff(in *Instance) {
	in.output(0)
	cycle := 1.0 / in.params.StrobeHz
	off := math.Max(0.01, cycle-0.010)
	in.scheduleLocked(secDuration(off), stepStrobeOn)
}

// --- Party ---

func (in *Instance) partyColor(i int) float64 {
	n := len(in.params.PartyColors)
	if n == 0 {
		return 0
	}
	idx := ((i % n) + n) % n
	return in.params.PartyColors[idx]
}

func (in *Instance) partyAdvanceIndex() {
	n := len(in.params.PartyColors)
	if n == 0 {
		in.params.PartyColorIndex = 0
		return
	}
	in.params.PartyColorIndex = (in.params.PartyColorIndex + 1) % n
}

func partyTotal(freq int) float64 {
	return 1.5 * math.Pow(0.80, float64(freq))
}

func stepPartyHold(in *Instance) {
	hue := in.partyColor(in.params.PartyColorIndex)
	in.outputWithHue(in.params.Intensity, hue+in.params.PartyHueBias)
	total := partyTotal(in.params.Frequency)
	hold := total * (1 - in.params.PartyTransition/100)
	in.scheduleLocked(secDuration(hold), stepPartySweepStart)
}

func stepPartySweepStart(in *Instance) {
	in.partySweepFrom = in.partyColor(in.params.PartyColorIndex)
	in.partyAdvanceIndex()
	in.partySweepTo = in.partyColor(in.params.PartyColorIndex)
	in.partySweepTotal = partyTotal(in.params.Frequency) * (in.params.PartyTransition / 100)
	in.partySweepElapsed = 0

	// Always sweep the short way around the hue circle: 350°→10° is a
	// 20° turn, not 340°.
	delta := in.partySweepTo - in.partySweepFrom
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	in.partySweepDelta = delta

	stepPartySweep(in)
}

func stepPartySweep(in *Instance) {
	var frac float64
	if in.partySweepTotal <= 0 {
		frac = 1
	} else {
		frac = in.partySweepElapsed / in.partySweepTotal
	}
	if frac > 1 {
		frac = 1
	}
	hue := in.partySweepFrom + in.partySweepDelta*frac
	in.outputWithHue(in.params.Intensity, hue+in.params.PartyHueBias)
	if frac >= 1 {
		in.scheduleLocked(secDuration(1.5*math.Pow(0.80, float64(in.params.Frequency))*(1-in.params.PartyTransition/100)), stepPartySweepStart)
		return
	}
	in.partySweepElapsed += 0.03
	in.scheduleLocked(30*time.Millisecond, stepPartySweep)
}

// --- Welding ---

func stepWeldingBurstStart(in *Instance) {
	in.weldingArcsLeft = in.randint(2, 5)
	stepWeldingArcOn(in)
}

func stepWeldingArcOn(in *Instance) {
	in.output(in.params.Intensity * in.uniform(0.7, 1.0))
	in.scheduleLocked(secDuration(in.uniform(0.02, 0.08)), stepWeldingArcOff)
}

func stepWeldingArcOff(in *Instance) {
	in.output(0)
	in.weldingArcsLeft--
	off := in.uniform(0.01, 0.04)
	if in.weldingArcsLeft <= 0 {
		pause := 1.5 * math.Pow(0.80, float64(in.params.Frequency)) * in.uniform(0.3, 1.0)
		in.scheduleLocked(secDuration(off+pause), stepWeldingBurstStart)
		return
	}
	in.scheduleLocked(secDuration(off), stepWeldingArcOn)
}

// --- Faulty bulb ---

func faultyDip(maxV, minV, level float64) float64 {
	if maxV == minV {
		return 0
	}
	d := (maxV - level) / (maxV - minV)
	if d < 0 {
		d = 0
	}
	if d > 1 {
		d = 1
	}
	return d
}

func stepFaultyBulbEvent(in *Instance) {
	p := &in.params
	n := p.FaultyPoints
	if n < 2 {
		n = 2
	}
	maxLevel := n - 1
	atMax := in.faultyLevel == maxLevel

	b := math.Pow(p.FaultyBias/100, 2.5)
	var target int
	if atMax {
		if in.rng.Float64() < b {
			target = in.randint(0, maxLevel-1)
		} else {
			target = in.faultyLevel
		}
	} else {
		recoverP := 0.10 + 0.90*math.Pow(p.FaultyRecovery/100, 2)
		if in.rng.Float64() < recoverP {
			target = maxLevel
		} else {
			target = in.randint(0, maxLevel-1)
		}
	}
	in.faultyBeginTransition(target)
}

func (in *Instance) faultyBeginTransition(target int) {
	p := &in.params
	fromValue := p.faultyLevelValue(in.faultyLevel)
	toValue := p.faultyLevelValue(target)
	in.faultyLevel = target
	if p.FaultyTransition < 0.005 {
		in.faultyEmitLevel(toValue)
		in.scheduleNextFaultyEvent()
		return
	}
	steps := int(p.FaultyTransition / 0.02)
	if steps < 1 {
		steps = 1
	}
	in.faultyFadeFrom = fromValue
	in.faultyFadeTo = toValue
	in.faultyFadeStep = 0
	in.faultyFadeTotal = steps
	stepFaultyFade(in)
}

func stepFaultyFade(in *Instance) {
	in.faultyFadeStep++
	frac := float64(in.faultyFadeStep) / float64(in.faultyFadeTotal)
	if frac > 1 {
		frac = 1
	}
	value := in.faultyFadeFrom + (in.faultyFadeTo-in.faultyFadeFrom)*frac
	in.faultyEmitLevel(value)
	if frac >= 1 {
		in.scheduleNextFaultyEvent()
		return
	}
	in.scheduleLocked(20*time.Millisecond, stepFaultyFade)
}

func (in *Instance) faultyEmitLevel(value float64) {
	p := &in.params
	dip := faultyDip(p.FaultyMax, p.FaultyMin, value)
	kelvin := p.Kelvin + int(float64(p.FaultyWarmKelvin-p.Kelvin)*dip*(p.FaultyWarmth/100))
	in.outputWithKelvin(value, kelvin)
}

func (in *Instance) scheduleNextFaultyEvent() {
	p := &in.params
	var wait float64
	if p.FaultyFrequency >= 10 {
		wait = in.uniform(0.08, 2.0)
	} else {
		wait = 1.5 * math.Pow(0.65, p.FaultyFrequency-1) * in.uniform(0.85, 1.15)
	}
	in.scheduleLocked(secDuration(wait), stepFaultyBulbEvent)
}

// --- Paparazzi ---

func startParaparazzi(in *Instance) {
	stepParaparazziWait(in)
}

func stepParaparazziWait(in *Instance) {
	wait := 3.0 * math.Pow(0.75, float64(in.params.Frequency)) * in.uniform(0.5, 1.5)
	in.scheduleLocked(secDuration(wait), stepParaparazziFlash)
}

func stepParaparazziFlash(in *Instance) {
	intensity := math.Max(in.params.Intensity, 10)
	in.paparazziFlashSec = in.uniform(0.03, 0.08)
	in.output(intensity)
	in.scheduleLocked(secDuration(in.paparazziFlashSec), stepParaparazziDark)
}

func stepParaparazziDark(in *Instance) {
	in.output(0)
	if in.rng.Float64() < 0.3 {
		in.scheduleLocked(secDuration(in.uniform(0.05, 0.15)), stepParaparazziSecondFlash)
		return
	}
	stepParaparazziWait(in)
}

func stepParaparazziSecondFlash(in *Instance) {
	intensity := math.Max(in.params.Intensity, 10)
	in.output(intensity)
	in.scheduleLocked(secDuration(in.paparazziFlashSec), stepParaparazziSecondDark)
}

func stepParaparazziSecondDark(in *Instance) {
	in.output(0)
	stepParaparazziWait(in)
}

// starters maps each engine to the action performed the moment it is
// started. Most call their regular step function immediately (an
// output happens right away); Paparazzi and Strobe are the two
// documented exceptions (spec.md §4.3's "Start contract").
var starters = map[EngineType]func(*Instance){
	EngineCandle:      stepCandle,
	EngineFire:        stepFire,
	EngineTV:          stepTV,
	EngineLightning:   stepLightningFlash,
	EnginePulsing:     stepPulsing,
	EngineExplosion:   stepExplosionFlash,
	EngineParty:       stepPartyHold,
	EngineWelding:     stepWeldingBurstStart,
	EngineFaultyBulb:  stepFaultyBulbEvent,
	EngineParaparazzi: startParaparazzi,
	EngineStrobe:      startStrobe,
}

// Manager owns every running effect instance, keyed by unicast
// address, and is the package's public entry point.
type Manager struct {
	mu        sync.Mutex
	instances map[uint16]*Instance

	newTimer func() Timer
	seed     func() int64

	logger *log.Logger
	trace  bool
}

// NewManager returns an empty Manager. A nil logger uses log.Default().
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		instances: make(map[uint16]*Instance),
		newTimer:  func() Timer { return newRealTimer() },
		seed:      func() int64 { return time.Now().UnixNano() },
		logger:    logger,
	}
}

// SetTrace enables or disables per-output trace logging. Disabled by
// default so hot-path timer callbacks don't pay fmt formatting cost.
func (m *Manager) SetTrace(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trace = on
}

// Start begins engine on unicast with params, replacing any existing
// effect on the same unicast. emit is called (synchronously, from
// whatever goroutine the timer facility uses) for every output the
// effect produces until it is stopped or replaced.
func (m *Manager) Start(unicast uint16, engine EngineType, params Params, emit func(Output)) error {
	startFn, ok := starters[engine]
	if !ok {
		return fmt.Errorf("effect: unknown engine %q", engine)
	}

	m.mu.Lock()
	if existing, ok := m.instances[unicast]; ok {
		existing.stop()
	}
	trace, logger := m.trace, m.logger
	wrapped := emit
	if trace {
		wrapped = func(out Output) {
			logger.Printf("effect: unicast=%#04x sleep=%v mode=%v intensity=%.2f kelvin=%d hue=%.1f sat=%.1f",
				out.Unicast, out.Sleep, out.Mode, out.Intensity, out.Kelvin, out.Hue, out.Saturation)
			emit(out)
		}
	}
	in := &Instance{
		unicast:          unicast,
		engine:           engine,
		params:           params,
		running:          true,
		timer:            m.newTimer(),
		rng:              rand.New(rand.NewSource(m.seed())),
		currentIntensity: params.Intensity,
		phaseTime:        0,
		emit:             wrapped,
	}
	m.instances[unicast] = in
	m.mu.Unlock()

	in.mu.Lock()
	defer in.mu.Unlock()
	startFn(in)
	return nil
}

// Update replaces the parameter record of the running instance on
// unicast in place, preserving runtime state, and clamps
// PartyColorIndex to the new PartyColors length.
func (m *Manager) Update(unicast uint16, params Params) error {
	m.mu.Lock()
	in, ok := m.instances[unicast]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("effect: no running instance for unicast %#04x", unicast)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if n := len(params.PartyColors); n > 0 {
		params.PartyColorIndex = ((params.PartyColorIndex % n) + n) % n
	} else {
		params.PartyColorIndex = 0
	}
	in.params = params
	return nil
}

// Stop cancels the running instance on unicast, if any.
func (m *Manager) Stop(unicast uint16) {
	m.mu.Lock()
	in, ok := m.instances[unicast]
	if ok {
		delete(m.instances, unicast)
	}
	m.mu.Unlock()
	if ok {
		in.stop()
	}
}

// StopAll cancels every running instance.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Instance, 0, len(m.instances))
	for _, in := range m.instances {
		all = append(all, in)
	}
	m.instances = make(map[uint16]*Instance)
	m.mu.Unlock()
	for _, in := range all {
		in.stop()
	}
}

// Running reports whether unicast currently has an active effect
// instance.
func (m *Manager) Running(unicast uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.instances[unicast]
	return ok
}
