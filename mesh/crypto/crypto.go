// package crypto implements the Bluetooth Mesh key-derivation salt
// functions (s1, k2, k4) and the AES-CCM construction used to encrypt
// access and network layer payloads.
//
// AES-CCM (RFC 3610) is hand-rolled over crypto/aes rather than
// reached for from a library: the standard library's crypto/cipher
// only exports GCM-style AEAD constructors, and no CCM implementation
// appears anywhere in the example pack this module was grounded on.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

const keySize = 16

var errKeySize = errors.New("crypto: key must be 16 bytes")

// CMAC computes AES-CMAC (RFC 4493) of msg under the 16-byte key.
func CMAC(key, msg []byte) ([]byte, error) {
	if len(key) != keySize {
		return nil, errKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	k1, k2 := subkeys(block)

	n := len(msg)
	nb := blocks(n)
	var last [aes.BlockSize]byte
	if nb == 0 {
		// Empty message: pad a single all-zero block and use K2.
		last[0] = 0x80
		xor(last[:], last[:], k2[:])
		nb = 1
	} else {
		tail := msg[(nb-1)*aes.BlockSize:]
		if len(tail) == aes.BlockSize {
			xor(last[:], tail, k1[:])
		} else {
			copy(last[:], tail)
			last[len(tail)] = 0x80
			xor(last[:], last[:], k2[:])
		}
	}

	var x, y [aes.BlockSize]byte
	for i := 0; i < nb-1; i++ {
		xor(y[:], x[:], msg[i*aes.BlockSize:(i+1)*aes.BlockSize])
		block.Encrypt(x[:], y[:])
	}
	xor(y[:], x[:], last[:])
	var mac [aes.BlockSize]byte
	block.Encrypt(mac[:], y[:])
	return mac[:], nil
}

func blocks(n int) int {
	return (n + aes.BlockSize - 1) / aes.BlockSize
}

func subkeys(block cipher.Block) (k1, k2 [aes.BlockSize]byte) {
	var zero, l [aes.BlockSize]byte
	block.Encrypt(l[:], zero[:])
	k1 = shiftXorRb(l)
	k2 = shiftXorRb(k1)
	return
}

// shiftXorRb shifts in left by one bit, XOR-ing in the Rb constant
// (0x87) when the vacated bit was set.
func shiftXorRb(in [aes.BlockSize]byte) [aes.BlockSize]byte {
	var out [aes.BlockSize]byte
	var carry byte
	for i := aes.BlockSize - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if in[0]&0x80 != 0 {
		out[aes.BlockSize-1] ^= 0x87
	}
	return out
}

func xor(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// S1 is the Mesh "salt" function: AES-CMAC under an all-zero key.
func S1(m []byte) ([]byte, error) {
	var zeroKey [keySize]byte
	return CMAC(zeroKey[:], m)
}

// K2 derives the NID, encryption key and privacy key for a network key
// N under the tag byte(s) P (e.g. a single 0x00 byte for the primary
// subnet derivation).
func K2(n, p []byte) (nid byte, encryptionKey, privacyKey []byte, err error) {
	salt, err := S1([]byte("smk2"))
	if err != nil {
		return 0, nil, nil, err
	}
	t, err := CMAC(salt, n)
	if err != nil {
		return 0, nil, nil, err
	}
	t1, err := CMAC(t, concat(p, []byte{0x01}))
	if err != nil {
		return 0, nil, nil, err
	}
	t2, err := CMAC(t, concat(t1, p, []byte{0x02}))
	if err != nil {
		return 0, nil, nil, err
	}
	t3, err := CMAC(t, concat(t2, p, []byte{0x03}))
	if err != nil {
		return 0, nil, nil, err
	}
	return t1[15] & 0x7f, t2, t3, nil
}

// K4 derives the 6-bit application identifier (AID) for an application
// key N.
func K4(n []byte) (aid byte, err error) {
	salt, err := S1([]byte("smk4"))
	if err != nil {
		return 0, err
	}
	t, err := CMAC(salt, n)
	if err != nil {
		return 0, err
	}
	out, err := CMAC(t, []byte("id6\x01"))
	if err != nil {
		return 0, err
	}
	return out[15] & 0x3f, nil
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// AppNonce builds the 13-byte application nonce (type 0x01) for a
// given sequence number, source/destination addresses and IV index.
func AppNonce(seq [3]byte, src, dst uint16, ivIndex uint32) [13]byte {
	var n [13]byte
	n[0] = 0x01
	n[1] = 0x00
	copy(n[2:5], seq[:])
	n[5], n[6] = byte(src>>8), byte(src)
	n[7], n[8] = byte(dst>>8), byte(dst)
	putUint32(n[9:13], ivIndex)
	return n
}

// NetworkNonce builds the 13-byte network nonce (type 0x00) for a
// given control flag, TTL, sequence number, source address and IV
// index.
func NetworkNonce(ctl bool, ttl byte, seq [3]byte, src uint16, ivIndex uint32) [13]byte {
	var n [13]byte
	n[0] = 0x00
	ctlBit := byte(0)
	if ctl {
		ctlBit = 0x80
	}
	n[1] = ctlBit | (ttl & 0x7f)
	copy(n[2:5], seq[:])
	n[5], n[6] = byte(src>>8), byte(src)
	// n[7], n[8] left zero.
	putUint32(n[9:13], ivIndex)
	return n
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// ccmFlags returns the B0 flags byte for L=2 (2-byte length field),
// no associated data, and the given MIC size.
func ccmFlags(micSize int) byte {
	mPrime := byte((micSize - 2) / 2)
	const lPrime = 1 // L-1, L=2.
	return mPrime<<3 | lPrime
}

// ccmTag runs the CBC-MAC pass over B0 ‖ plaintext (zero-padded to a
// block boundary) and returns the full 16-byte tag; callers keep only
// the leading micSize bytes.
func ccmTag(block cipher.Block, nonce, plaintext []byte, micSize int) ([aes.BlockSize]byte, error) {
	if len(nonce) != 13 {
		return [aes.BlockSize]byte{}, errors.New("crypto: nonce must be 13 bytes")
	}
	var b0 [aes.BlockSize]byte
	b0[0] = ccmFlags(micSize)
	copy(b0[1:14], nonce)
	b0[14] = byte(len(plaintext) >> 8)
	b0[15] = byte(len(plaintext))

	var x, y [aes.BlockSize]byte
	block.Encrypt(x[:], b0[:])
	for len(plaintext) > 0 {
		var blk [aes.BlockSize]byte
		n := copy(blk[:], plaintext)
		plaintext = plaintext[n:]
		xor(y[:], x[:], blk[:])
		block.Encrypt(x[:], y[:])
	}
	return x, nil
}

// counterBlock computes S_c = AES(K, A_c) for counter c, where
// A_c = (L-1) ‖ nonce ‖ big-endian-u16(c).
func counterBlock(block cipher.Block, nonce []byte, c uint16) ([aes.BlockSize]byte, error) {
	if len(nonce) != 13 {
		return [aes.BlockSize]byte{}, errors.New("crypto: nonce must be 13 bytes")
	}
	var a [aes.BlockSize]byte
	const lPrime = 1 // L-1, L=2.
	a[0] = lPrime
	copy(a[1:14], nonce)
	a[14] = byte(c >> 8)
	a[15] = byte(c)
	var s [aes.BlockSize]byte
	block.Encrypt(s[:], a[:])
	return s, nil
}

// ctrXOR XORs in with the CCM keystream (S_1, S_2, ...) into out.
func ctrXOR(block cipher.Block, nonce, in, out []byte) error {
	c := uint16(1)
	for len(in) > 0 {
		s, err := counterBlock(block, nonce, c)
		if err != nil {
			return err
		}
		n := len(in)
		if n > aes.BlockSize {
			n = aes.BlockSize
		}
		xor(out[:n], in[:n], s[:n])
		in, out = in[n:], out[n:]
		c++
	}
	return nil
}

// Encrypt performs AES-CCM (RFC 3610 shape, L=2, no associated data)
// encryption of plaintext under key and a 13-byte nonce, producing
// ciphertext ‖ MIC. micSize must be 4 or 8.
func Encrypt(key, nonce, plaintext []byte, micSize int) ([]byte, error) {
	if micSize != 4 && micSize != 8 {
		return nil, errors.New("crypto: mic size must be 4 or 8")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	tag, err := ccmTag(block, nonce, plaintext, micSize)
	if err != nil {
		return nil, err
	}
	s0, err := counterBlock(block, nonce, 0)
	if err != nil {
		return nil, err
	}
	mic := make([]byte, micSize)
	xor(mic, tag[:micSize], s0[:micSize])

	out := make([]byte, len(plaintext)+micSize)
	if err := ctrXOR(block, nonce, plaintext, out[:len(plaintext)]); err != nil {
		return nil, err
	}
	copy(out[len(plaintext):], mic)
	return out, nil
}

// Decrypt is the inverse of Encrypt. The core never calls this in
// normal operation (inbound decryption is out of scope, see spec.md
// §1's Non-goals) but it is exercised by tests to confirm Encrypt
// produces a valid, self-consistent CCM ciphertext.
func Decrypt(key, nonce, ciphertext []byte, micSize int) ([]byte, error) {
	if micSize != 4 && micSize != 8 {
		return nil, errors.New("crypto: mic size must be 4 or 8")
	}
	if len(ciphertext) < micSize {
		return nil, errors.New("crypto: ciphertext shorter than MIC")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	ct := ciphertext[:len(ciphertext)-micSize]
	gotMIC := ciphertext[len(ciphertext)-micSize:]

	plaintext := make([]byte, len(ct))
	if err := ctrXOR(block, nonce, ct, plaintext); err != nil {
		return nil, err
	}
	tag, err := ccmTag(block, nonce, plaintext, micSize)
	if err != nil {
		return nil, err
	}
	s0, err := counterBlock(block, nonce, 0)
	if err != nil {
		return nil, err
	}
	wantMIC := make([]byte, micSize)
	xor(wantMIC, tag[:micSize], s0[:micSize])
	for i := range wantMIC {
		if wantMIC[i] != gotMIC[i] {
			return nil, errors.New("crypto: MIC mismatch")
		}
	}
	return plaintext, nil
}

// ECBEncrypt runs a single AES block encryption, as used for the
// privacy obfuscation PECB computation.
func ECBEncrypt(key []byte, in [aes.BlockSize]byte) ([aes.BlockSize]byte, error) {
	var out [aes.BlockSize]byte
	block, err := aes.NewCipher(key)
	if err != nil {
		return out, err
	}
	block.Encrypt(out[:], in[:])
	return out, nil
}

// Obfuscate computes the 6-byte obfuscated network header: the
// cleartext header (CTL/TTL byte, 3-byte sequence number, 2-byte
// source address) XORed with the first 6 bytes of PECB, derived from
// the privacy key, IV index and the first 7 bytes of the encrypted
// network payload (the "privacy random").
func Obfuscate(privacyKey []byte, ivIndex uint32, encryptedNetwork []byte, ctlTTL byte, seq [3]byte, src uint16) ([6]byte, error) {
	var out [6]byte
	if len(encryptedNetwork) < 7 {
		return out, errors.New("crypto: encrypted network payload too short")
	}
	var pecbInput [aes.BlockSize]byte
	// 5 zero bytes, then the 4-byte IV index, then the 7-byte
	// privacy random.
	putUint32(pecbInput[5:9], ivIndex)
	copy(pecbInput[9:], encryptedNetwork[:7])
	pecb, err := ECBEncrypt(privacyKey, pecbInput)
	if err != nil {
		return out, err
	}
	out[0] = ctlTTL ^ pecb[0]
	out[1] = seq[0] ^ pecb[1]
	out[2] = seq[1] ^ pecb[2]
	out[3] = seq[2] ^ pecb[3]
	out[4] = byte(src>>8) ^ pecb[4]
	out[5] = byte(src) ^ pecb[5]
	return out, nil
}
