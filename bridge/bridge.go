// package bridge implements the Command Dispatcher: it validates and
// routes inbound control-channel commands to the access encoder, mesh
// crypto layer and effect engine, and publishes outbound events. It is
// the single serializing executor described by the concurrency model:
// every entrypoint (decoded command, effect timer callback, link
// status callback) ultimately funnels through a Dispatcher method, so
// no caller needs its own locking around the mesh security context or
// the effect instance table.
package bridge

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"lumenmesh.dev/access"
	"lumenmesh.dev/effect"
	"lumenmesh.dev/mesh/pdu"
)

// Version and MaxLights are reported in the ready event on successful
// set_keys.
const (
	Version   = "1.0.0"
	MaxLights = 64
)

// ErrorKind classifies a bridge.Error, letting an embedder branch on
// kind without string-matching the message.
type ErrorKind int

const (
	ErrNotInitialized ErrorKind = iota
	ErrInvalidArgument
	ErrUnknownTarget
	ErrLinkUnready
	ErrCryptoFailure
	ErrResourceExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotInitialized:
		return "not-initialized"
	case ErrInvalidArgument:
		return "invalid-argument"
	case ErrUnknownTarget:
		return "unknown-target"
	case ErrLinkUnready:
		return "link-unready"
	case ErrCryptoFailure:
		return "crypto-failure"
	case ErrResourceExhausted:
		return "resource-exhausted"
	default:
		return "unknown"
	}
}

// Error is returned by every Dispatcher operation that fails; its Kind
// mirrors spec.md §7's six error kinds.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Fixture is the directory record for one known fixture.
type Fixture struct {
	ID      string
	Unicast uint16
	Name    string
}

// Directory resolves unicast addresses to fixture records. It is an
// external collaborator; the bridge package never implements it.
type Directory interface {
	Add(f Fixture) error
	Lookup(unicast uint16) (Fixture, bool)
}

// LinkSink delivers framed proxy PDUs to the GATT link addressed by
// unicast, and reports whether that link is ready to accept one.
// Send is fire-and-forget from the Dispatcher's perspective; transport
// back-pressure is the link layer's concern.
type LinkSink interface {
	Ready(unicast uint16) bool
	Send(unicast uint16, pdu []byte) error
	Connect(unicast uint16) error
	Disconnect(unicast uint16) error
}

// Transport publishes outbound events (ReadyEvent, LightStatusEvent,
// ErrorEvent) to the external control channel.
type Transport interface {
	Publish(event any)
}

// PresetLookup resolves a named effect preset to its parameter record.
// Satisfied by presets.Library without bridge importing that package
// directly, keeping the preset storage format out of this seam.
type PresetLookup interface {
	Lookup(name string) (effect.Params, bool)
}

// Dispatcher is the Command Dispatcher: the single owner of the mesh
// security context and the effect instance table.
type Dispatcher struct {
	security  *pdu.SecurityContext
	effects   *effect.Manager
	directory Directory
	link      LinkSink
	transport Transport
	presets   PresetLookup
	logger    *log.Logger
}

// NewDispatcher wires a Dispatcher to its external collaborators.
// presets may be nil if no preset library is configured; any command
// that then references a preset name fails as invalid-argument.
func NewDispatcher(directory Directory, link LinkSink, transport Transport, presets PresetLookup, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		security:  pdu.New(),
		effects:   effect.NewManager(logger),
		directory: directory,
		link:      link,
		transport: transport,
		presets:   presets,
		logger:    logger,
	}
}

// SetTrace enables per-output effect trace logging.
func (d *Dispatcher) SetTrace(on bool) { d.effects.SetTrace(on) }

func (d *Dispatcher) fail(kind ErrorKind, err error) error {
	d.logger.Printf("bridge: %v", err)
	d.publish(ErrorEvent{Message: err.Error()})
	return &Error{Kind: kind, Message: err.Error()}
}

func (d *Dispatcher) publish(event any) {
	if d.transport != nil {
		d.transport.Publish(event)
	}
}

func decodeKey(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 16 {
		return out, fmt.Errorf("want 16 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// SetKeys handles the set_keys command: derives network/application
// key material and resets the sequence counter.
func (d *Dispatcher) SetKeys(cmd SetKeysCommand) error {
	netKey, err := decodeKey(cmd.NetworkKey)
	if err != nil {
		return d.fail(ErrInvalidArgument, fmt.Errorf("bridge: set_keys: network_key: %w", err))
	}
	appKey, err := decodeKey(cmd.AppKey)
	if err != nil {
		return d.fail(ErrInvalidArgument, fmt.Errorf("bridge: set_keys: app_key: %w", err))
	}
	src := cmd.SrcAddress
	if src == 0 {
		src = 0x0001
	}
	if err := d.security.Init(netKey, appKey, cmd.IVIndex, src); err != nil {
		return d.fail(ErrCryptoFailure, fmt.Errorf("bridge: set_keys: %w", err))
	}
	d.publish(ReadyEvent{Version: Version, MaxLights: MaxLights})
	return nil
}

// AddLight handles the add_light command.
func (d *Dispatcher) AddLight(cmd AddLightCommand) error {
	if cmd.Unicast == 0 {
		return d.fail(ErrInvalidArgument, errors.New("bridge: add_light: missing unicast"))
	}
	if err := d.directory.Add(Fixture{ID: cmd.ID, Unicast: cmd.Unicast, Name: cmd.Name}); err != nil {
		return d.fail(ErrInvalidArgument, fmt.Errorf("bridge: add_light: %w", err))
	}
	return nil
}

// Connect handles the connect command.
func (d *Dispatcher) Connect(cmd ConnectCommand) error {
	if _, ok := d.directory.Lookup(cmd.Unicast); !ok {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: connect: unknown unicast %#04x", cmd.Unicast))
	}
	if err := d.link.Connect(cmd.Unicast); err != nil {
		return d.fail(ErrLinkUnready, fmt.Errorf("bridge: connect: %w", err))
	}
	d.publish(LightStatusEvent{Unicast: cmd.Unicast, Connected: true})
	return nil
}

// Disconnect handles the disconnect command; a fixture with a running
// effect has it stopped first.
func (d *Dispatcher) Disconnect(cmd DisconnectCommand) error {
	if _, ok := d.directory.Lookup(cmd.Unicast); !ok {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: disconnect: unknown unicast %#04x", cmd.Unicast))
	}
	d.effects.Stop(cmd.Unicast)
	if err := d.link.Disconnect(cmd.Unicast); err != nil {
		return d.fail(ErrLinkUnready, fmt.Errorf("bridge: disconnect: %w", err))
	}
	d.publish(LightStatusEvent{Unicast: cmd.Unicast, Connected: false})
	return nil
}

// sendAccess implements the shared send path (spec.md §4.4): check
// link readiness before touching the sequence counter, build the
// proxy PDU (which advances it), then hand the bytes to the link.
func (d *Dispatcher) sendAccess(unicast uint16, payload [10]byte) error {
	if !d.link.Ready(unicast) {
		return d.fail(ErrLinkUnready, fmt.Errorf("bridge: link not ready for unicast %#04x", unicast))
	}
	msg := pdu.EncodeAccessMessage(payload)
	pduBytes, err := d.security.BuildAccessPDU(unicast, msg[:])
	if err != nil {
		kind := ErrCryptoFailure
		if errors.Is(err, pdu.ErrNotInitialized) {
			kind = ErrNotInitialized
		}
		return d.fail(kind, fmt.Errorf("bridge: build access pdu: %w", err))
	}
	if err := d.link.Send(unicast, pduBytes); err != nil {
		return d.fail(ErrLinkUnready, fmt.Errorf("bridge: send: %w", err))
	}
	return nil
}

// SetCCT handles the set_cct command.
func (d *Dispatcher) SetCCT(cmd SetCCTCommand) error {
	if _, ok := d.directory.Lookup(cmd.Unicast); !ok {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: set_cct: unknown unicast %#04x", cmd.Unicast))
	}
	sleep := true
	if cmd.SleepMode != nil {
		sleep = *cmd.SleepMode != 0
	}
	payload := access.PackCCT(access.CCTParams{Intensity: cmd.Intensity, Kelvin: cmd.CCTKelvin, Sleep: sleep})
	return d.sendAccess(cmd.Unicast, payload)
}

// SetHSI handles the set_hsi command.
func (d *Dispatcher) SetHSI(cmd SetHSICommand) error {
	if _, ok := d.directory.Lookup(cmd.Unicast); !ok {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: set_hsi: unknown unicast %#04x", cmd.Unicast))
	}
	sleep := true
	if cmd.SleepMode != nil {
		sleep = *cmd.SleepMode != 0
	}
	payload := access.PackHSI(access.HSIParams{
		Intensity:  cmd.Intensity,
		Hue:        cmd.Hue,
		Saturation: cmd.Saturation,
		Kelvin:     cmd.CCTKelvin,
		Sleep:      sleep,
	})
	return d.sendAccess(cmd.Unicast, payload)
}

// Sleep handles the sleep command.
func (d *Dispatcher) Sleep(cmd SleepCommand) error {
	if _, ok := d.directory.Lookup(cmd.Unicast); !ok {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: sleep: unknown unicast %#04x", cmd.Unicast))
	}
	return d.sendAccess(cmd.Unicast, access.PackSleep(cmd.On))
}

// SetEffect handles the set_effect command: a single direct hardware
// effect frame, distinct from the software effect engine.
func (d *Dispatcher) SetEffect(cmd SetEffectCommand) error {
	if _, ok := d.directory.Lookup(cmd.Unicast); !ok {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: set_effect: unknown unicast %#04x", cmd.Unicast))
	}
	mode := access.ModeCCT
	if cmd.EffectMode != 0 {
		mode = access.ModeHSI
	}
	sleepOn := true
	payload := access.PackEffect(access.EffectType(cmd.EffectType), access.EffectParams{
		Intensity:  cmd.Intensity,
		Frequency:  cmd.Frequency,
		Kelvin:     cmd.CCTKelvin,
		Hue:        cmd.Hue,
		Saturation: cmd.Saturation,
		Mode:       mode,
		Color:      cmd.CopCarColor,
		Sleep:      &sleepOn,
	})
	return d.sendAccess(cmd.Unicast, payload)
}

// effectOutput returns the callback the effect engine invokes for
// every output it produces on unicast, translating it into an access
// payload and sending it the same way any other command would.
func (d *Dispatcher) effectOutput(unicast uint16) func(effect.Output) {
	return func(out effect.Output) {
		var payload [10]byte
		switch {
		case out.Sleep:
			payload = access.PackSleep(true)
		case out.Mode == effect.ModeHSI:
			payload = access.PackHSI(access.HSIParams{
				Intensity:  out.Intensity,
				Hue:        out.Hue,
				Saturation: out.Saturation,
				Kelvin:     out.Kelvin,
			})
		default:
			payload = access.PackCCT(access.CCTParams{Intensity: out.Intensity, Kelvin: out.Kelvin})
		}
		if err := d.sendAccess(unicast, payload); err != nil {
			d.logger.Printf("bridge: effect output for unicast %#04x dropped: %v", unicast, err)
		}
	}
}

func mergeEffectParams(base, override effect.Params) effect.Params {
	out := base
	if override.Intensity != 0 {
		out.Intensity = override.Intensity
	}
	if override.Frequency != 0 {
		out.Frequency = override.Frequency
	}
	if override.ColorMode != effect.ModeCCT {
		out.ColorMode = override.ColorMode
	}
	if override.Kelvin != 0 {
		out.Kelvin = override.Kelvin
	}
	if override.Hue != 0 {
		out.Hue = override.Hue
	}
	if override.Saturation != 0 {
		out.Saturation = override.Saturation
	}
	if override.PulsingShape != 0 {
		out.PulsingShape = override.PulsingShape
	}
	if override.PulsingMin != 0 {
		out.PulsingMin = override.PulsingMin
	}
	if override.PulsingMax != 0 {
		out.PulsingMax = override.PulsingMax
	}
	if override.StrobeHz != 0 {
		out.StrobeHz = override.StrobeHz
	}
	if len(override.PartyColors) > 0 {
		out.PartyColors = override.PartyColors
	}
	if override.PartyColorIndex != 0 {
		out.PartyColorIndex = override.PartyColorIndex
	}
	if override.PartyTransition != 0 {
		out.PartyTransition = override.PartyTransition
	}
	if override.PartyHueBias != 0 {
		out.PartyHueBias = override.PartyHueBias
	}
	if override.FaultyMin != 0 {
		out.FaultyMin = override.FaultyMin
	}
	if override.FaultyMax != 0 {
		out.FaultyMax = override.FaultyMax
	}
	if override.FaultyPoints != 0 {
		out.FaultyPoints = override.FaultyPoints
	}
	if override.FaultyBias != 0 {
		out.FaultyBias = override.FaultyBias
	}
	if override.FaultyRecovery != 0 {
		out.FaultyRecovery = override.FaultyRecovery
	}
	if override.FaultyTransition != 0 {
		out.FaultyTransition = override.FaultyTransition
	}
	if override.FaultyFrequency != 0 {
		out.FaultyFrequency = override.FaultyFrequency
	}
	if override.FaultyWarmKelvin != 0 {
		out.FaultyWarmKelvin = override.FaultyWarmKelvin
	}
	if override.FaultyWarmth != 0 {
		out.FaultyWarmth = override.FaultyWarmth
	}
	return out
}

// StartEffect handles the start_effect command.
func (d *Dispatcher) StartEffect(cmd StartEffectCommand) error {
	if _, ok := d.directory.Lookup(cmd.Unicast); !ok {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: start_effect: unknown unicast %#04x", cmd.Unicast))
	}
	params := cmd.Params.toEngine()
	if cmd.Preset != "" {
		preset, err := d.resolvePreset(cmd.Preset)
		if err != nil {
			return d.fail(ErrInvalidArgument, fmt.Errorf("bridge: start_effect: %w", err))
		}
		params = mergeEffectParams(preset, params)
	}
	if err := d.effects.Start(cmd.Unicast, effect.EngineType(cmd.Engine), params, d.effectOutput(cmd.Unicast)); err != nil {
		return d.fail(ErrInvalidArgument, fmt.Errorf("bridge: start_effect: %w", err))
	}
	return nil
}

// UpdateEffect handles the update_effect command.
func (d *Dispatcher) UpdateEffect(cmd UpdateEffectCommand) error {
	params := cmd.Params.toEngine()
	if cmd.Preset != "" {
		preset, err := d.resolvePreset(cmd.Preset)
		if err != nil {
			return d.fail(ErrInvalidArgument, fmt.Errorf("bridge: update_effect: %w", err))
		}
		params = mergeEffectParams(preset, params)
	}
	if err := d.effects.Update(cmd.Unicast, params); err != nil {
		return d.fail(ErrUnknownTarget, fmt.Errorf("bridge: update_effect: %w", err))
	}
	return nil
}

func (d *Dispatcher) resolvePreset(name string) (effect.Params, error) {
	if d.presets == nil {
		return effect.Params{}, fmt.Errorf("preset %q requested but no preset library configured", name)
	}
	preset, ok := d.presets.Lookup(name)
	if !ok {
		return effect.Params{}, fmt.Errorf("unknown preset %q", name)
	}
	return preset, nil
}

// StopEffect handles the stop_effect command.
func (d *Dispatcher) StopEffect(cmd StopEffectCommand) error {
	d.effects.Stop(cmd.Unicast)
	return nil
}

// StopAll handles the stop_all command.
func (d *Dispatcher) StopAll(cmd StopAllCommand) error {
	d.effects.StopAll()
	return nil
}

// Dispatch routes a decoded command to its handler by concrete type.
// Unrecognized types are dropped as invalid-argument with a logged
// warning, matching spec.md §7's "unknown command" handling.
func (d *Dispatcher) Dispatch(cmd any) error {
	switch c := cmd.(type) {
	case SetKeysCommand:
		return d.SetKeys(c)
	case AddLightCommand:
		return d.AddLight(c)
	case ConnectCommand:
		return d.Connect(c)
	case DisconnectCommand:
		return d.Disconnect(c)
	case SetCCTCommand:
		return d.SetCCT(c)
	case SetHSICommand:
		return d.SetHSI(c)
	case SleepCommand:
		return d.Sleep(c)
	case SetEffectCommand:
		return d.SetEffect(c)
	case StartEffectCommand:
		return d.StartEffect(c)
	case UpdateEffectCommand:
		return d.UpdateEffect(c)
	case StopEffectCommand:
		return d.StopEffect(c)
	case StopAllCommand:
		return d.StopAll(c)
	default:
		return d.fail(ErrInvalidArgument, fmt.Errorf("bridge: unrecognized command type %T", cmd))
	}
}
