// command bridged is the daemon that wires the mesh bridge to a local
// control channel: it accepts newline-free JSON command envelopes over
// TCP, dispatches them through one shared bridge.Dispatcher, and
// streams events back to every connected client. The GATT proxy side is a
// serial-attached bench dongle (see internal/serialink); a production
// embedder would swap that for a real BLE stack behind the same
// bridge.LinkSink interface.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"lumenmesh.dev/bridge"
	"lumenmesh.dev/internal/serialink"
	"lumenmesh.dev/presets"
)

func main() {
	listen := flag.String("listen", "localhost:7777", "control channel listen address")
	presetsPath := flag.String("presets", "", "path to a CBOR effect preset library")
	device := flag.String("device", "", "serial device of the proxy dongle")
	baud := flag.Int("baud", 0, "serial baud rate override")
	trace := flag.Bool("trace", false, "log every effect output")
	flag.Parse()

	if err := run(*listen, *presetsPath, *device, *baud, *trace); err != nil {
		fmt.Fprintf(os.Stderr, "bridged: %v\n", err)
		os.Exit(1)
	}
}

func run(listen, presetsPath, device string, baud int, trace bool) error {
	var pl bridge.PresetLookup
	if presetsPath != "" {
		lib, err := presets.Load(presetsPath)
		if err != nil {
			return fmt.Errorf("bridged: %w", err)
		}
		pl = lib
		log.Printf("bridged: loaded %d presets from %s", len(lib.Names()), presetsPath)
	}

	link, err := serialink.Open(device, baud)
	if err != nil {
		return fmt.Errorf("bridged: %w", err)
	}
	defer link.Close()

	// The mesh security context and the effect instance table are
	// process-wide (spec.md §5): one Dispatcher is built here and
	// shared by every connection, so a reconnecting or second client
	// never resets the sequence counter or starts a second effect
	// engine against the same keys and the same physical link. Only
	// the event sink is per-connection.
	transport := newBroadcastTransport()
	d := bridge.NewDispatcher(newDirectory(), link, transport, pl, log.Default())
	d.SetTrace(trace)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("bridged: listen: %w", err)
	}
	defer ln.Close()
	log.Printf("bridged: listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("bridged: accept: %w", err)
		}
		go serve(conn, d, transport)
	}
}

// directory is a thread-safe in-memory bridge.Directory, the concrete
// form of the fixture registry the core treats as an external
// collaborator.
type directory struct {
	mu       sync.Mutex
	fixtures map[uint16]bridge.Fixture
}

func newDirectory() *directory {
	return &directory{fixtures: make(map[uint16]bridge.Fixture)}
}

func (d *directory) Add(f bridge.Fixture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fixtures[f.Unicast] = f
	return nil
}

func (d *directory) Lookup(unicast uint16) (bridge.Fixture, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fixtures[unicast]
	return f, ok
}

// connTransport publishes events to one control-channel connection as
// JSON envelopes, the event-side mirror of the command envelopes the
// connection sends in.
type connTransport struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// broadcastTransport is the one bridge.Transport handed to the shared
// Dispatcher: it fans out every published event (ready, light_status,
// error) to whichever control-channel connections are currently
// registered, since the Dispatcher itself outlives any single
// connection.
type broadcastTransport struct {
	mu    sync.Mutex
	conns map[*connTransport]struct{}
}

func newBroadcastTransport() *broadcastTransport {
	return &broadcastTransport{conns: make(map[*connTransport]struct{})}
}

func (b *broadcastTransport) register(c *connTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c] = struct{}{}
}

func (b *broadcastTransport) unregister(c *connTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c)
}

func (b *broadcastTransport) Publish(event any) {
	b.mu.Lock()
	conns := make([]*connTransport, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		c.Publish(event)
	}
}

func eventType(event any) string {
	switch event.(type) {
	case bridge.ReadyEvent:
		return "ready"
	case bridge.LightStatusEvent:
		return "light_status"
	case bridge.ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}

func (t *connTransport) Publish(event any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	env := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{Type: eventType(event), Payload: event}
	if err := t.enc.Encode(env); err != nil {
		log.Printf("bridged: publish: %v", err)
	}
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decodeCommand(env envelope) (any, error) {
	var err error
	switch env.Type {
	case "set_keys":
		var c bridge.SetKeysCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "add_light":
		var c bridge.AddLightCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "connect":
		var c bridge.ConnectCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "disconnect":
		var c bridge.DisconnectCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "set_cct":
		var c bridge.SetCCTCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "set_hsi":
		var c bridge.SetHSICommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "sleep":
		var c bridge.SleepCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "set_effect":
		var c bridge.SetEffectCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "start_effect":
		var c bridge.StartEffectCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "update_effect":
		var c bridge.UpdateEffectCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "stop_effect":
		var c bridge.StopEffectCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	case "stop_all":
		var c bridge.StopAllCommand
		err = json.Unmarshal(env.Payload, &c)
		return c, err
	default:
		return nil, fmt.Errorf("bridged: unrecognized command type %q", env.Type)
	}
}

func serve(conn net.Conn, d *bridge.Dispatcher, transport *broadcastTransport) {
	defer conn.Close()
	logger := log.New(log.Writer(), fmt.Sprintf("bridged[%s]: ", conn.RemoteAddr()), log.LstdFlags)

	tr := &connTransport{enc: json.NewEncoder(conn)}
	transport.register(tr)
	defer transport.unregister(tr)

	dec := json.NewDecoder(conn)
	for {
		var env envelope
		if err := dec.Decode(&env); err != nil {
			if err != io.EOF {
				logger.Printf("decode: %v", err)
			}
			return
		}
		cmd, err := decodeCommand(env)
		if err != nil {
			logger.Printf("%v", err)
			tr.Publish(bridge.ErrorEvent{Message: err.Error()})
			continue
		}
		d.Dispatch(cmd)
	}
}
