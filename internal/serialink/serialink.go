// package serialink implements a bridge.LinkSink over a single
// serial-attached BLE-proxy dongle, for bench testing the pipeline
// without a real GATT stack. A serial port carries a byte stream with
// no message boundaries of its own, so each proxy PDU is framed with a
// 2-byte big-endian length prefix on the wire.
package serialink

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Handshake bytes exchanged with the proxy dongle's firmware right
// after the port opens, so a stray serial device (or an unflashed
// dongle) is rejected before any PDU is trusted to it.
const (
	handshakeProbe   byte = 0xfe
	handshakeAck     byte = 0xfa
	handshakeTimeout      = 500 * time.Millisecond
)

// Open tries each candidate device in turn, opening the port and then
// running the proxy-dongle identification handshake; the first device
// that both opens and acknowledges the handshake wins.
func Open(dev string, baud int) (*Link, error) {
	if baud == 0 {
		baud = 115200
	}
	devices, err := candidateDevices(dev)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, d := range devices {
		port, err := serial.OpenPort(&serial.Config{Name: d, Baud: baud, ReadTimeout: handshakeTimeout})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", d, err)
			}
			continue
		}
		if err := identifyDongle(port); err != nil {
			port.Close()
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", d, err)
			}
			continue
		}
		return newLink(port), nil
	}
	return nil, fmt.Errorf("serialink: open: %w", firstErr)
}

// candidateDevices returns dev alone if set, otherwise the platform's
// usual BLE-proxy-dongle device paths to try in order.
func candidateDevices(dev string) ([]string, error) {
	if dev != "" {
		return []string{dev}, nil
	}
	var devices []string
	switch runtime.GOOS {
	case "windows":
		devices = append(devices, "COM3")
	case "linux":
		devices = append(devices, "/dev/ttyUSB0", "/dev/ttyUSB1")
	}
	if len(devices) == 0 {
		return nil, errors.New("serialink: no device specified")
	}
	return devices, nil
}

// identifyDongle sends the handshake probe byte and requires the
// dongle's firmware to answer with the ack byte, rejecting any serial
// device that doesn't speak the proxy-dongle protocol.
func identifyDongle(port io.ReadWriter) error {
	if _, err := port.Write([]byte{handshakeProbe}); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}
	var resp [1]byte
	n, err := port.Read(resp[:])
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	if n != 1 || resp[0] != handshakeAck {
		return fmt.Errorf("handshake: got %#x, want proxy-dongle ack %#x", resp[:n], handshakeAck)
	}
	return nil
}

// Link is a single-dongle bridge.LinkSink: it speaks for every fixture
// reachable through the one proxy connection it owns, so Ready,
// Connect and Disconnect ignore the unicast argument and report the
// state of that one connection.
type Link struct {
	port io.ReadWriteCloser
	bufw *bufio.Writer

	writeMut chan struct{}

	mu    sync.Mutex
	ready bool
}

func newLink(port io.ReadWriteCloser) *Link {
	l := &Link{
		port:     port,
		bufw:     bufio.NewWriter(port),
		writeMut: make(chan struct{}, 1),
	}
	l.writeMut <- struct{}{}
	return l
}

// Ready reports whether the proxy connection is up.
func (l *Link) Ready(unicast uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Connect marks the proxy connection up. The dongle itself is already
// open by the time a Link exists; Connect only flips the readiness
// flag the dispatcher checks before every send.
func (l *Link) Connect(unicast uint16) error {
	l.mu.Lock()
	l.ready = true
	l.mu.Unlock()
	return nil
}

// Disconnect marks the proxy connection down without closing the port,
// so a later Connect can resume using the same dongle.
func (l *Link) Disconnect(unicast uint16) error {
	l.mu.Lock()
	l.ready = false
	l.mu.Unlock()
	return nil
}

// Send writes pdu to the serial port as a length-prefixed frame.
func (l *Link) Send(unicast uint16, pdu []byte) error {
	if len(pdu) > 0xffff {
		return fmt.Errorf("serialink: pdu too large: %d bytes", len(pdu))
	}
	<-l.writeMut
	defer func() { l.writeMut <- struct{}{} }()
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(pdu)))
	if _, err := l.bufw.Write(hdr[:]); err != nil {
		return fmt.Errorf("serialink: send: %w", err)
	}
	if _, err := l.bufw.Write(pdu); err != nil {
		return fmt.Errorf("serialink: send: %w", err)
	}
	if err := l.bufw.Flush(); err != nil {
		return fmt.Errorf("serialink: send: %w", err)
	}
	return nil
}

// Close releases the underlying serial port.
func (l *Link) Close() error {
	return l.port.Close()
}
