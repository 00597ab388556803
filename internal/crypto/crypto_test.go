package crypto

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = 0xDE
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	send, err := NewSession(key)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	recv, err := NewSession(key)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	plaintext := []byte("Hello, Server!")
	wire, err := send.Encrypt(ToServer, 100, 0, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := recv.Decrypt(wire)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got.Payload, plaintext) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, plaintext)
	}
	if got.Direction != ToServer {
		t.Fatalf("direction mismatch: got %v want %v", got.Direction, ToServer)
	}
	if got.Seq != 0 {
		t.Fatalf("seq mismatch: got %d want 0", got.Seq)
	}
	if got.Timestamp != 100 {
		t.Fatalf("timestamp mismatch: got %d want 100", got.Timestamp)
	}
}

func TestEncryptDecryptEmptyPayload(t *testing.T) {
	key := testKey()
	send, _ := NewSession(key)
	recv, _ := NewSession(key)

	wire, err := send.Encrypt(ToClient, 1, 2, nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(wire) != WireOverhead {
		t.Fatalf("wire length mismatch: got %d want %d", len(wire), WireOverhead)
	}

	got, err := recv.Decrypt(wire)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got.Payload))
	}
	if got.Direction != ToClient {
		t.Fatalf("direction mismatch")
	}
}

func TestEncryptDecryptLargePayload(t *testing.T) {
	key := testKey()
	send, _ := NewSession(key)
	recv, _ := NewSession(key)

	plaintext := make([]byte, 2000)
	for i := range plaintext {
		plaintext[i] = byte(i % 256)
	}

	wire, err := send.Encrypt(ToServer, 0, 0, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := recv.Decrypt(wire)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got.Payload, plaintext) {
		t.Fatalf("payload mismatch on large buffer")
	}
}

func TestDecryptRejectsBitFlip(t *testing.T) {
	key := testKey()
	send, _ := NewSession(key)
	recv, _ := NewSession(key)

	wire, err := send.Encrypt(ToServer, 0, 0, []byte("flip me"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	wire[len(wire)-1] ^= 0x01

	if _, err := recv.Decrypt(wire); err == nil {
		t.Fatalf("expected decryption failure after bit flip")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	keyA := bytes.Repeat([]byte{0xAA}, KeySize)
	keyB := bytes.Repeat([]byte{0xBB}, KeySize)

	send, _ := NewSession(keyA)
	recv, _ := NewSession(keyB)

	wire, err := send.Encrypt(ToServer, 0, 0, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := recv.Decrypt(wire); err == nil {
		t.Fatalf("expected decryption failure with wrong key")
	}
}

func TestDecryptRejectsShortPacket(t *testing.T) {
	key := testKey()
	recv, _ := NewSession(key)

	if _, err := recv.Decrypt(make([]byte, 10)); err == nil {
		t.Fatalf("expected ErrPacketTooShort")
	}
}

func TestNewSessionRejectsBadKeyLength(t *testing.T) {
	if _, err := NewSession(make([]byte, 10)); err == nil {
		t.Fatalf("expected ErrInvalidKeyLength")
	}
}

func TestParseKeyRawAndBase64(t *testing.T) {
	raw := testKey()
	parsed, err := ParseKey(string(raw))
	if err != nil {
		t.Fatalf("ParseKey(raw): %v", err)
	}
	if !bytes.Equal(parsed, raw) {
		t.Fatalf("raw key round-trip mismatch")
	}

	encoded, err := EncodeKey(raw)
	if err != nil {
		t.Fatalf("EncodeKey: %v", err)
	}
	if len(encoded) != 22 {
		t.Fatalf("encoded key length: got %d want 22", len(encoded))
	}

	parsed2, err := ParseKey(encoded)
	if err != nil {
		t.Fatalf("ParseKey(base64): %v", err)
	}
	if !bytes.Equal(parsed2, raw) {
		t.Fatalf("base64 key round-trip mismatch")
	}
}

func TestSequenceCountersAreIndependentPerDirection(t *testing.T) {
	key := testKey()
	send, _ := NewSession(key)

	w1, _ := send.Encrypt(ToServer, 0, 0, []byte("a"))
	w2, _ := send.Encrypt(ToClient, 0, 0, []byte("b"))

	recv, _ := NewSession(key)
	d1, err := recv.Decrypt(w1)
	if err != nil {
		t.Fatalf("Decrypt w1: %v", err)
	}
	d2, err := recv.Decrypt(w2)
	if err != nil {
		t.Fatalf("Decrypt w2: %v", err)
	}
	if d1.Seq != 0 || d2.Seq != 0 {
		t.Fatalf("expected independent per-direction counters starting at 0, got %d and %d", d1.Seq, d2.Seq)
	}
	if d1.Direction != ToServer || d2.Direction != ToClient {
		t.Fatalf("direction tagging mismatch")
	}
}
