// Package crypto provides the authenticated-encryption session for the
// mosh-compatible wire protocol: AES-128-OCB3 with a direction-tagged
// 64-bit sequence number folded into a 12-byte nonce, of which only the
// low 8 bytes ever travel on the wire.
package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	// KeySize is the AES-128 key size in bytes.
	KeySize = 16

	// NonceSize is the OCB3 nonce size in bytes.
	NonceSize = 12

	// NonceTailSize is the number of nonce bytes actually transmitted.
	NonceTailSize = 8

	// TagSize is the OCB3 authentication tag size in bytes.
	TagSize = 16

	// HeaderSize is the size of the plaintext header: dseq || ts || ts_reply.
	HeaderSize = 8 + 2 + 2

	// WireOverhead is the total bytes added to a plaintext payload on the wire:
	// nonce tail + tag + header.
	WireOverhead = NonceTailSize + TagSize + HeaderSize

	// directionBit marks the high bit of a 64-bit direction-tagged sequence.
	directionBit = uint64(1) << 63
)

var (
	// ErrInvalidKeyLength is returned when a key is not exactly KeySize bytes.
	ErrInvalidKeyLength = errors.New("crypto: key must be 16 bytes")

	// ErrInvalidBase64Key is returned when a base64-encoded key fails to decode
	// to the expected length.
	ErrInvalidBase64Key = errors.New("crypto: invalid base64 key")

	// ErrPacketTooShort is returned when a received wire payload is shorter
	// than the minimum possible ciphertext.
	ErrPacketTooShort = errors.New("crypto: packet too short")

	// ErrDecryptionFailed is returned when OCB3 authentication fails.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")

	// ErrEncryptionFailed is returned when the AEAD cipher cannot be built.
	// Unreachable under correct key material; exists to keep Encrypt's error
	// return meaningful rather than a programming-error panic.
	ErrEncryptionFailed = errors.New("crypto: encryption failed")

	// ErrPlaintextTooShort is returned when decrypted plaintext is shorter
	// than the fixed header.
	ErrPlaintextTooShort = errors.New("crypto: decrypted plaintext shorter than header")
)

// Direction identifies which endpoint originated a sequence number.
type Direction uint8

const (
	// ToServer marks sequence numbers owned by the client-to-server direction.
	ToServer Direction = 0
	// ToClient marks sequence numbers owned by the server-to-client direction.
	ToClient Direction = 1
)

// dseq is the 64-bit direction-tagged sequence number: the high bit carries
// direction, the low 63 bits are a per-direction monotonic counter. It is
// exposed as a typed wrapper rather than repeating bit-twiddling at call
// sites (the ABI contract is with mosh, not with Go's type system).
type dseq uint64

func makeDseq(dir Direction, raw uint64) dseq {
	v := raw &^ uint64(directionBit)
	if dir == ToClient {
		v |= directionBit
	}
	return dseq(v)
}

func (d dseq) direction() Direction {
	if uint64(d)&directionBit != 0 {
		return ToClient
	}
	return ToServer
}

func (d dseq) rawSeq() uint64 {
	return uint64(d) &^ directionBit
}

// Decrypted holds the fields recovered from a decrypted wire payload.
type Decrypted struct {
	Seq            uint64
	Direction      Direction
	Timestamp      uint16
	TimestampReply uint16
	Payload        []byte
}

// Session is the AEAD session described in spec §4.1: it owns one send
// counter per direction plus the last received sequence, and performs
// AES-128-OCB3 encrypt/decrypt
// with the mosh nonce construction. Safe for concurrent use, though the
// carrier's single-threaded scheduling model (spec §5) means callers
// typically never contend on it.
type Session struct {
	mu      sync.Mutex
	key     [KeySize]byte
	block   ocbBlock
	sendSeq [2]uint64 // indexed by direction: ToServer, ToClient
	recvSeq uint64
}

// NewSession constructs a CryptoSession from a 16-byte pre-shared key.
func NewSession(key []byte) (*Session, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	s := &Session{block: newOCBBlock(block)}
	copy(s.key[:], key)
	return s, nil
}

// ParseKey decodes a host-facing key: either 16 raw bytes or a 22-character
// URL-safe base64 no-pad string.
func ParseKey(s string) ([]byte, error) {
	if len(s) == KeySize {
		return []byte(s), nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != KeySize {
		return nil, ErrInvalidBase64Key
	}
	return raw, nil
}

// EncodeKey renders a 16-byte key as a 22-character URL-safe base64 no-pad
// string, for display and config storage.
func EncodeKey(key []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKeyLength
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// GenerateKey returns a fresh random 16-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return key, nil
}

// Encrypt builds a wire payload from a plaintext fragment. It allocates the
// next send sequence number for dir, constructs the 12-byte nonce, assembles
// the plaintext header, and runs AES-128-OCB3 with empty associated data.
func (s *Session) Encrypt(dir Direction, timestamp, timestampReply uint16, payload []byte) ([]byte, error) {
	idx := 0
	if dir == ToClient {
		idx = 1
	}
	s.mu.Lock()
	seq := s.sendSeq[idx]
	s.sendSeq[idx]++
	s.mu.Unlock()

	d := makeDseq(dir, seq)
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], uint64(d))

	plaintext := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint64(plaintext[0:8], uint64(d))
	binary.BigEndian.PutUint16(plaintext[8:10], timestamp)
	binary.BigEndian.PutUint16(plaintext[10:12], timestampReply)
	copy(plaintext[HeaderSize:], payload)

	ciphertext, err := s.block.seal(nonce, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	out := make([]byte, NonceTailSize+len(ciphertext))
	copy(out, nonce[4:])
	copy(out[NonceTailSize:], ciphertext)
	return out, nil
}

// Decrypt recovers a Decrypted record from a wire payload. The receive
// sequence counter is set unconditionally on every successful decrypt; no
// replay window is enforced here (see spec §9 — higher layers rely on
// instruction-level monotonicity for duplicate suppression).
func (s *Session) Decrypt(wire []byte) (Decrypted, error) {
	if len(wire) < NonceTailSize+TagSize {
		return Decrypted{}, ErrPacketTooShort
	}

	var nonce [NonceSize]byte
	copy(nonce[4:], wire[:NonceTailSize])

	ciphertext := wire[NonceTailSize:]
	plaintext, err := s.block.open(nonce, ciphertext, nil)
	if err != nil {
		return Decrypted{}, ErrDecryptionFailed
	}
	if len(plaintext) < HeaderSize {
		return Decrypted{}, ErrPlaintextTooShort
	}

	rawSeqWithDir := binary.BigEndian.Uint64(plaintext[0:8])
	d := dseq(rawSeqWithDir)
	ts := binary.BigEndian.Uint16(plaintext[8:10])
	tsReply := binary.BigEndian.Uint16(plaintext[10:12])

	s.mu.Lock()
	s.recvSeq = d.rawSeq()
	s.mu.Unlock()

	return Decrypted{
		Seq:            d.rawSeq(),
		Direction:      d.direction(),
		Timestamp:      ts,
		TimestampReply: tsReply,
		Payload:        plaintext[HeaderSize:],
	}, nil
}

// ZeroBytes zeroes a byte slice, for clearing key material the caller no
// longer needs once the Session is constructed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
