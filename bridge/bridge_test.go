package bridge

import (
	"sync"
	"testing"

	"lumenmesh.dev/effect"
)

type fakeDirectory struct {
	mu       sync.Mutex
	fixtures map[uint16]Fixture
}

func newFakeDirectory(unicasts ...uint16) *fakeDirectory {
	d := &fakeDirectory{fixtures: make(map[uint16]Fixture)}
	for _, u := range unicasts {
		d.fixtures[u] = Fixture{Unicast: u}
	}
	return d
}

func (d *fakeDirectory) Add(f Fixture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fixtures[f.Unicast] = f
	return nil
}

func (d *fakeDirectory) Lookup(unicast uint16) (Fixture, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fixtures[unicast]
	return f, ok
}

type fakeLink struct {
	mu      sync.Mutex
	ready   bool
	sent    [][]byte
	sendErr error
}

func (l *fakeLink) Ready(uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *fakeLink) Send(_ uint16, pdu []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	cp := append([]byte{}, pdu...)
	l.sent = append(l.sent, cp)
	return nil
}

func (l *fakeLink) Connect(uint16) error    { l.ready = true; return nil }
func (l *fakeLink) Disconnect(uint16) error { l.ready = false; return nil }

func (l *fakeLink) sentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

type fakeTransport struct {
	mu     sync.Mutex
	events []any
}

func (t *fakeTransport) Publish(event any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *fakeTransport) errorCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.events {
		if _, ok := e.(ErrorEvent); ok {
			n++
		}
	}
	return n
}

func testKeys() (net, app string) {
	return "01010101010101010101010101010101", "02020202020202020202020202020202"
}

func TestSetCCTBeforeSetKeysFailsAndNeverSends(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	link := &fakeLink{ready: true}
	tr := &fakeTransport{}
	d := NewDispatcher(dir, link, tr, nil, nil)

	err := d.SetCCT(SetCCTCommand{Unicast: 0x0100, Intensity: 50, CCTKelvin: 5600})
	if err == nil {
		t.Fatal("want error before set_keys")
	}
	berr, ok := err.(*Error)
	if !ok || berr.Kind != ErrNotInitialized {
		t.Fatalf("want ErrNotInitialized, got %#v", err)
	}
	if link.sentCount() != 0 {
		t.Fatal("link.Send must never be called before set_keys")
	}
}

func TestBringUpThenSetCCTSendsOnePDU(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	link := &fakeLink{ready: true}
	tr := &fakeTransport{}
	d := NewDispatcher(dir, link, tr, nil, nil)

	net, app := testKeys()
	if err := d.SetKeys(SetKeysCommand{NetworkKey: net, AppKey: app, IVIndex: 1, SrcAddress: 0x0001}); err != nil {
		t.Fatal(err)
	}
	if err := d.SetCCT(SetCCTCommand{Unicast: 0x0100, Intensity: 50, CCTKelvin: 5600}); err != nil {
		t.Fatal(err)
	}
	if link.sentCount() != 1 {
		t.Fatalf("sent count = %d, want 1", link.sentCount())
	}
	if link.sent[0][0] != 0x00 {
		t.Fatalf("proxy PDU = %x, want to start with 0x00", link.sent[0])
	}
}

func TestSetCCTUnknownUnicastFails(t *testing.T) {
	dir := newFakeDirectory()
	link := &fakeLink{ready: true}
	d := NewDispatcher(dir, link, nil, nil, nil)
	net, app := testKeys()
	if err := d.SetKeys(SetKeysCommand{NetworkKey: net, AppKey: app, IVIndex: 1}); err != nil {
		t.Fatal(err)
	}
	err := d.SetCCT(SetCCTCommand{Unicast: 0x0100, Intensity: 50, CCTKelvin: 5600})
	berr, ok := err.(*Error)
	if !ok || berr.Kind != ErrUnknownTarget {
		t.Fatalf("want ErrUnknownTarget, got %#v", err)
	}
}

func TestLinkUnreadyDropsWithoutSending(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	link := &fakeLink{ready: false}
	tr := &fakeTransport{}
	d := NewDispatcher(dir, link, tr, nil, nil)
	net, app := testKeys()
	if err := d.SetKeys(SetKeysCommand{NetworkKey: net, AppKey: app, IVIndex: 1}); err != nil {
		t.Fatal(err)
	}
	err := d.Sleep(SleepCommand{Unicast: 0x0100, On: true})
	berr, ok := err.(*Error)
	if !ok || berr.Kind != ErrLinkUnready {
		t.Fatalf("want ErrLinkUnready, got %#v", err)
	}
	if link.sentCount() != 0 {
		t.Fatal("link.Send must not be called when link is unready")
	}
	if tr.errorCount() != 1 {
		t.Fatalf("want exactly one error event published, got %d", tr.errorCount())
	}
}

func TestSequenceAdvancesAcrossSuccessfulSends(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	link := &fakeLink{ready: true}
	d := NewDispatcher(dir, link, nil, nil, nil)
	net, app := testKeys()
	if err := d.SetKeys(SetKeysCommand{NetworkKey: net, AppKey: app, IVIndex: 1}); err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		if err := d.SetCCT(SetCCTCommand{Unicast: 0x0100, Intensity: 50, CCTKelvin: 5600}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if link.sentCount() != 100 {
		t.Fatalf("sent count = %d, want 100", link.sentCount())
	}
	for i, pdu := range link.sent {
		key := string(pdu)
		if seen[key] {
			t.Fatalf("PDU %d duplicated a prior ciphertext (sequence not advancing)", i)
		}
		seen[key] = true
	}
}

func TestDisconnectStopsRunningEffect(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	link := &fakeLink{ready: true}
	d := NewDispatcher(dir, link, nil, nil, nil)
	net, app := testKeys()
	if err := d.SetKeys(SetKeysCommand{NetworkKey: net, AppKey: app, IVIndex: 1}); err != nil {
		t.Fatal(err)
	}
	if err := d.StartEffect(StartEffectCommand{Unicast: 0x0100, Engine: "candle", Params: EffectParams{Intensity: 50}}); err != nil {
		t.Fatal(err)
	}
	if !d.effects.Running(0x0100) {
		t.Fatal("effect did not start")
	}
	if err := d.Disconnect(DisconnectCommand{Unicast: 0x0100}); err != nil {
		t.Fatal(err)
	}
	if d.effects.Running(0x0100) {
		t.Fatal("disconnect did not stop the running effect")
	}
}

func TestDispatchUnknownCommandType(t *testing.T) {
	d := NewDispatcher(newFakeDirectory(), &fakeLink{}, nil, nil, nil)
	err := d.Dispatch(42)
	berr, ok := err.(*Error)
	if !ok || berr.Kind != ErrInvalidArgument {
		t.Fatalf("want ErrInvalidArgument, got %#v", err)
	}
}

func TestStartEffectUnknownEngineFails(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	d := NewDispatcher(dir, &fakeLink{ready: true}, nil, nil, nil)
	err := d.StartEffect(StartEffectCommand{Unicast: 0x0100, Engine: "not-a-real-engine"})
	berr, ok := err.(*Error)
	if !ok || berr.Kind != ErrInvalidArgument {
		t.Fatalf("want ErrInvalidArgument, got %#v", err)
	}
}

func TestStartEffectUnknownPresetFails(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	d := NewDispatcher(dir, &fakeLink{ready: true}, nil, nil, nil)
	err := d.StartEffect(StartEffectCommand{Unicast: 0x0100, Engine: "candle", Preset: "nonexistent"})
	berr, ok := err.(*Error)
	if !ok || berr.Kind != ErrInvalidArgument {
		t.Fatalf("want ErrInvalidArgument for unresolvable preset, got %#v", err)
	}
}

type fakePresets struct {
	params map[string]effect.Params
}

func (p *fakePresets) Lookup(name string) (effect.Params, bool) {
	v, ok := p.params[name]
	return v, ok
}

func TestStartEffectMergesPresetWithOverrides(t *testing.T) {
	dir := newFakeDirectory(0x0100)
	link := &fakeLink{ready: true}
	presets := &fakePresets{params: map[string]effect.Params{
		"warm-candle": {Intensity: 40, Frequency: 6, Kelvin: 2700},
	}}
	d := NewDispatcher(dir, link, nil, presets, nil)
	net, app := testKeys()
	if err := d.SetKeys(SetKeysCommand{NetworkKey: net, AppKey: app, IVIndex: 1}); err != nil {
		t.Fatal(err)
	}
	err := d.StartEffect(StartEffectCommand{
		Unicast: 0x0100,
		Engine:  "candle",
		Preset:  "warm-candle",
		Params:  EffectParams{Intensity: 90}, // overrides the preset's intensity only
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.effects.Running(0x0100) {
		t.Fatal("effect did not start from preset")
	}
	if link.sentCount() == 0 {
		t.Fatal("candle should emit immediately on start")
	}
}

func TestStopAllStopsEveryRunningEffect(t *testing.T) {
	dir := newFakeDirectory(0x0100, 0x0200)
	d := NewDispatcher(dir, &fakeLink{ready: true}, nil, nil, nil)
	net, app := testKeys()
	if err := d.SetKeys(SetKeysCommand{NetworkKey: net, AppKey: app, IVIndex: 1}); err != nil {
		t.Fatal(err)
	}
	if err := d.StartEffect(StartEffectCommand{Unicast: 0x0100, Engine: "fire", Params: EffectParams{Intensity: 50}}); err != nil {
		t.Fatal(err)
	}
	if err := d.StartEffect(StartEffectCommand{Unicast: 0x0200, Engine: "fire", Params: EffectParams{Intensity: 50}}); err != nil {
		t.Fatal(err)
	}
	if err := d.StopAll(StopAllCommand{}); err != nil {
		t.Fatal(err)
	}
	if d.effects.Running(0x0100) || d.effects.Running(0x0200) {
		t.Fatal("stop_all left a running effect")
	}
}
