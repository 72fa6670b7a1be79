package serialink

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

type nopCloser struct {
	io.ReadWriter
}

func (nopCloser) Close() error { return nil }

func TestSendFramesWithLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := newLink(nopCloser{&buf})
	if l.Ready(0x0100) {
		t.Fatal("fresh link must start unready")
	}
	if err := l.Connect(0x0100); err != nil {
		t.Fatal(err)
	}
	if !l.Ready(0x0100) {
		t.Fatal("Ready must report true after Connect")
	}
	pdu := []byte{0x00, 0x01, 0x02, 0x03}
	if err := l.Send(0x0100, pdu); err != nil {
		t.Fatal(err)
	}
	got := buf.Bytes()
	if len(got) != 2+len(pdu) {
		t.Fatalf("framed length = %d, want %d", len(got), 2+len(pdu))
	}
	n := binary.BigEndian.Uint16(got[:2])
	if int(n) != len(pdu) {
		t.Fatalf("length prefix = %d, want %d", n, len(pdu))
	}
	if !bytes.Equal(got[2:], pdu) {
		t.Fatalf("frame body = %x, want %x", got[2:], pdu)
	}
}

func TestDisconnectMakesLinkUnready(t *testing.T) {
	var buf bytes.Buffer
	l := newLink(nopCloser{&buf})
	l.Connect(0x0100)
	l.Disconnect(0x0100)
	if l.Ready(0x0100) {
		t.Fatal("Disconnect must clear readiness")
	}
}

// fakePort answers a handshake probe with a canned response, for
// exercising identifyDongle without a real serial port.
type fakePort struct {
	sent []byte
	resp []byte
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.sent = append(p.sent, b...)
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	n := copy(b, p.resp)
	return n, nil
}

func TestIdentifyDongleAcceptsAck(t *testing.T) {
	p := &fakePort{resp: []byte{handshakeAck}}
	if err := identifyDongle(p); err != nil {
		t.Fatal(err)
	}
	if len(p.sent) != 1 || p.sent[0] != handshakeProbe {
		t.Fatalf("sent = %x, want single handshake probe byte", p.sent)
	}
}

func TestIdentifyDongleRejectsWrongResponse(t *testing.T) {
	p := &fakePort{resp: []byte{0x00}}
	if err := identifyDongle(p); err == nil {
		t.Fatal("want error for a non-dongle serial device")
	}
}

func TestCandidateDevicesHonorsExplicitDevice(t *testing.T) {
	devices, err := candidateDevices("/dev/ttyACM3")
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0] != "/dev/ttyACM3" {
		t.Fatalf("devices = %v, want exactly the explicit device", devices)
	}
}
