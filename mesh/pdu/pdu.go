// package pdu owns the process-wide Bluetooth Mesh security context and
// assembles proxy PDUs (the byte stream written to a fixture's GATT
// Proxy Data-In characteristic) from access-layer payloads.
//
// A SecurityContext is the single mutable owner described in spec.md
// §5's "Global mesh context" design note: its sequence counter is
// never exposed directly, only advanced as a side effect of building a
// PDU, and advancing it is guarded by a mutex so concurrent callers
// never observe or reuse the same sequence number.
package pdu

import (
	"errors"
	"fmt"
	"sync"

	"lumenmesh.dev/mesh/crypto"
)

// ErrNotInitialized is returned by any operation attempted before Init
// has been called successfully.
var ErrNotInitialized = errors.New("pdu: security context not initialized")

const (
	initialSequenceNumber = 0x010000
	maxSequenceNumber     = 0xffffff // 24-bit.

	accessOpcode = 0x26

	// Lower transport header bits for an unsegmented access message
	// with application key material (AKF=1, SEG=0).
	ltAccessHeader = 0x40

	accessMIC  = 4
	controlMIC = 8

	accessTTL = 7
)

// SecurityContext holds the network/application keys and all material
// derived from them, plus the monotonic sequence counter used to
// build every PDU. The zero value is uninitialized; call Init before
// building any PDU.
type SecurityContext struct {
	mu sync.Mutex

	initialized bool

	networkKey [16]byte
	appKey     [16]byte
	ivIndex    uint32
	srcAddress uint16

	nid           byte
	encryptionKey []byte
	privacyKey    []byte
	aid           byte

	seq uint32
}

// New returns an uninitialized SecurityContext.
func New() *SecurityContext {
	return &SecurityContext{}
}

// Init derives the network/application key material and resets the
// sequence counter. It may be called more than once (e.g. on a
// controller-issued re-key), each call fully replacing the derived
// material and sequence state of the prior one.
func (c *SecurityContext) Init(networkKey, appKey [16]byte, ivIndex uint32, srcAddress uint16) error {
	nid, encKey, privKey, err := crypto.K2(networkKey[:], []byte{0x00})
	if err != nil {
		return fmt.Errorf("pdu: derive network keys: %w", err)
	}
	aid, err := crypto.K4(appKey[:])
	if err != nil {
		return fmt.Errorf("pdu: derive application key: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkKey = networkKey
	c.appKey = appKey
	c.ivIndex = ivIndex
	c.srcAddress = srcAddress
	c.nid = nid
	c.encryptionKey = encKey
	c.privacyKey = privKey
	c.aid = aid
	c.seq = initialSequenceNumber
	c.initialized = true
	return nil
}

// nextSequence atomically advances and returns the next 24-bit
// sequence number. It is the only place the counter changes.
func (c *SecurityContext) nextSequence() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	if c.seq >= maxSequenceNumber {
		return 0, errors.New("pdu: sequence number exhausted")
	}
	c.seq++
	return c.seq, nil
}

// snapshot copies the fields needed to build a PDU without holding the
// lock across the (possibly slow) crypto calls.
type snapshot struct {
	srcAddress    uint16
	ivIndex       uint32
	appKey        [16]byte
	encryptionKey []byte
	privacyKey    []byte
	nid, aid      byte
}

func (c *SecurityContext) snapshot() (snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return snapshot{}, ErrNotInitialized
	}
	return snapshot{
		srcAddress:    c.srcAddress,
		ivIndex:       c.ivIndex,
		appKey:        c.appKey,
		encryptionKey: c.encryptionKey,
		privacyKey:    c.privacyKey,
		nid:           c.nid,
		aid:           c.aid,
	}, nil
}

func seqBytes(seq uint32) [3]byte {
	return [3]byte{byte(seq >> 16), byte(seq >> 8), byte(seq)}
}

// BuildAccessPDU assembles a complete proxy PDU carrying an
// already-encoded access message (e.g. from the access package) to
// dst. It advances the sequence counter exactly once per call that
// passes the initialization check, before any encryption runs: if a
// later step fails, the sequence number it took stays consumed and is
// never handed out again.
func (c *SecurityContext) BuildAccessPDU(dst uint16, accessMessage []byte) ([]byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	seq, err := c.nextSequence()
	if err != nil {
		return nil, err
	}
	seqB := seqBytes(seq)

	appNonce := crypto.AppNonce(seqB, snap.srcAddress, dst, snap.ivIndex)
	encryptedAccess, err := crypto.Encrypt(snap.appKey[:], appNonce[:], accessMessage, accessMIC)
	if err != nil {
		return nil, fmt.Errorf("pdu: access layer encryption: %w", err)
	}

	lt := make([]byte, 1+len(encryptedAccess))
	lt[0] = ltAccessHeader | (snap.aid & 0x3f)
	copy(lt[1:], encryptedAccess)

	return c.buildNetworkPDU(snap, false, accessTTL, dst, lt, accessMIC, 0x00, seq, seqB)
}

// BuildProxyFilterSetup assembles the boot-time proxy filter setup
// PDU (Set Filter Type = blacklist, i.e. "accept all"), a Mesh Proxy
// Configuration control message sent directly after Init.
func (c *SecurityContext) BuildProxyFilterSetup() ([]byte, error) {
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	seq, err := c.nextSequence()
	if err != nil {
		return nil, err
	}
	seqB := seqBytes(seq)

	lt := []byte{0x00, 0x01} // Opcode "Set Filter Type", FilterType = blacklist.
	return c.buildNetworkPDU(snap, true, 0, 0x0000, lt, controlMIC, 0x02, seq, seqB)
}

// buildNetworkPDU performs the shared network-layer encryption,
// privacy obfuscation and proxy-PDU framing steps common to access and
// control messages.
func (c *SecurityContext) buildNetworkPDU(snap snapshot, ctl bool, ttl byte, dst uint16, lt []byte, micSize int, proxyHeader byte, seq uint32, seqB [3]byte) ([]byte, error) {
	plaintext := make([]byte, 2+len(lt))
	plaintext[0], plaintext[1] = byte(dst>>8), byte(dst)
	copy(plaintext[2:], lt)

	netNonce := crypto.NetworkNonce(ctl, ttl, seqB, snap.srcAddress, snap.ivIndex)
	encryptedNetwork, err := crypto.Encrypt(snap.encryptionKey, netNonce[:], plaintext, micSize)
	if err != nil {
		return nil, fmt.Errorf("pdu: network layer encryption: %w", err)
	}

	iviNID := byte(snap.ivIndex&1)<<7 | (snap.nid & 0x7f)

	ctlTTL := ttl & 0x7f
	if ctl {
		ctlTTL |= 0x80
	}
	obfuscated, err := crypto.Obfuscate(snap.privacyKey, snap.ivIndex, encryptedNetwork, ctlTTL, seqB, snap.srcAddress)
	if err != nil {
		return nil, fmt.Errorf("pdu: privacy obfuscation: %w", err)
	}

	out := make([]byte, 0, 1+1+6+len(encryptedNetwork))
	out = append(out, proxyHeader, iviNID)
	out = append(out, obfuscated[:]...)
	out = append(out, encryptedNetwork...)
	return out, nil
}

// EncodeAccessMessage prefixes the fixed access opcode (0x26) onto a
// 10-byte access payload produced by the access package, yielding the
// 11-byte access message spec.md §4.1 describes.
func EncodeAccessMessage(payload [10]byte) [11]byte {
	var out [11]byte
	out[0] = accessOpcode
	copy(out[1:], payload[:])
	return out
}
