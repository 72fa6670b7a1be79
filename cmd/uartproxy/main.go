// command uartproxy is a bench tool that drives the bridge pipeline
// against a single fixture reachable through a serial-attached
// BLE-proxy test dongle, without a control-channel daemon or a real
// GATT stack in the loop. It is the hardware-in-the-loop counterpart
// to the bridge package's fakes: same Dispatcher, same access/mesh
// layers, a real serial port instead of an in-memory LinkSink.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"lumenmesh.dev/bridge"
	"lumenmesh.dev/internal/serialink"
)

func main() {
	device := flag.String("device", "", "serial device of the proxy dongle")
	baud := flag.Int("baud", 0, "serial baud rate override")
	networkKey := flag.String("network-key", "01010101010101010101010101010101", "16-byte network key, hex")
	appKey := flag.String("app-key", "02020202020202020202020202020202", "16-byte application key, hex")
	ivIndex := flag.Uint("iv-index", 1, "IV index")
	src := flag.Uint("src", 1, "bridge source address")
	unicast := flag.Uint("unicast", 0x0100, "fixture unicast address")

	op := flag.String("op", "set_cct", "set_cct, set_hsi, sleep, start_effect, stop_effect, stop_all")
	intensity := flag.Float64("intensity", 50, "intensity percent, 0-100")
	kelvin := flag.Int("kelvin", 5600, "CCT color temperature")
	hue := flag.Float64("hue", 0, "HSI hue in degrees")
	saturation := flag.Float64("saturation", 0, "HSI saturation percent")
	sleepOn := flag.Bool("sleep-on", false, "sleep command state")
	engine := flag.String("engine", "candle", "effect engine for start_effect")
	preset := flag.String("preset", "", "preset name for start_effect")
	duration := flag.Duration("duration", 5*time.Second, "how long to let a started effect run before stopping it")
	trace := flag.Bool("trace", true, "log every effect output")
	flag.Parse()

	if err := run(config{
		device:     *device,
		baud:       *baud,
		networkKey: *networkKey,
		appKey:     *appKey,
		ivIndex:    uint32(*ivIndex),
		src:        uint16(*src),
		unicast:    uint16(*unicast),
		op:         *op,
		intensity:  *intensity,
		kelvin:     *kelvin,
		hue:        *hue,
		saturation: *saturation,
		sleepOn:    *sleepOn,
		engine:     *engine,
		preset:     *preset,
		duration:   *duration,
		trace:      *trace,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "uartproxy: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	device                     string
	baud                       int
	networkKey, appKey         string
	ivIndex                    uint32
	src, unicast               uint16
	op, engine, preset         string
	intensity, hue, saturation float64
	kelvin                     int
	sleepOn                    bool
	duration                   time.Duration
	trace                      bool
}

type logTransport struct{ logger *log.Logger }

func (t logTransport) Publish(event any) { t.logger.Printf("event: %#v", event) }

type oneFixtureDirectory struct{ f bridge.Fixture }

func (d oneFixtureDirectory) Add(bridge.Fixture) error { return nil }
func (d oneFixtureDirectory) Lookup(unicast uint16) (bridge.Fixture, bool) {
	if unicast != d.f.Unicast {
		return bridge.Fixture{}, false
	}
	return d.f, true
}

func run(cfg config) error {
	link, err := serialink.Open(cfg.device, cfg.baud)
	if err != nil {
		return fmt.Errorf("uartproxy: %w", err)
	}
	defer link.Close()

	logger := log.New(os.Stderr, "uartproxy: ", log.LstdFlags)
	dir := oneFixtureDirectory{f: bridge.Fixture{Unicast: cfg.unicast}}
	d := bridge.NewDispatcher(dir, link, logTransport{logger}, nil, logger)
	d.SetTrace(cfg.trace)

	if err := d.SetKeys(bridge.SetKeysCommand{
		NetworkKey: cfg.networkKey,
		AppKey:     cfg.appKey,
		IVIndex:    cfg.ivIndex,
		SrcAddress: cfg.src,
	}); err != nil {
		return fmt.Errorf("uartproxy: set_keys: %w", err)
	}
	if err := d.Connect(bridge.ConnectCommand{Unicast: cfg.unicast}); err != nil {
		return fmt.Errorf("uartproxy: connect: %w", err)
	}
	defer d.Disconnect(bridge.DisconnectCommand{Unicast: cfg.unicast})

	switch cfg.op {
	case "set_cct":
		return d.SetCCT(bridge.SetCCTCommand{Unicast: cfg.unicast, Intensity: cfg.intensity, CCTKelvin: cfg.kelvin})
	case "set_hsi":
		return d.SetHSI(bridge.SetHSICommand{Unicast: cfg.unicast, Intensity: cfg.intensity, Hue: cfg.hue, Saturation: cfg.saturation})
	case "sleep":
		return d.Sleep(bridge.SleepCommand{Unicast: cfg.unicast, On: cfg.sleepOn})
	case "stop_effect":
		return d.StopEffect(bridge.StopEffectCommand{Unicast: cfg.unicast})
	case "stop_all":
		return d.StopAll(bridge.StopAllCommand{})
	case "start_effect":
		if err := d.StartEffect(bridge.StartEffectCommand{
			Unicast: cfg.unicast,
			Engine:  cfg.engine,
			Preset:  cfg.preset,
			Params:  bridge.EffectParams{Intensity: cfg.intensity, CCTKelvin: cfg.kelvin, Hue: cfg.hue, Saturation: cfg.saturation},
		}); err != nil {
			return fmt.Errorf("uartproxy: start_effect: %w", err)
		}
		time.Sleep(cfg.duration)
		return d.StopEffect(bridge.StopEffectCommand{Unicast: cfg.unicast})
	default:
		return fmt.Errorf("uartproxy: unrecognized -op %q", cfg.op)
	}
}
