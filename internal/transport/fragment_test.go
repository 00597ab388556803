package transport

import (
	"bytes"
	"testing"
)

func TestFragmentEncodeDecodeRoundTrip(t *testing.T) {
	f := Fragment{InstructionID: 42, Index: 0, IsFinal: true, Payload: []byte{1, 2, 3, 4, 5}}

	wire := f.Encode()
	got, err := DecodeFragment(wire)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if got.InstructionID != 42 || got.Index != 0 || !got.IsFinal {
		t.Fatalf("fragment metadata mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestIsFinalBitEncoding(t *testing.T) {
	final := Fragment{InstructionID: 1, Index: 0, IsFinal: true}
	wire := final.Encode()
	word := uint16(wire[8])<<8 | uint16(wire[9])
	if word>>15 != 1 {
		t.Fatalf("expected final bit set")
	}

	notFinal := Fragment{InstructionID: 1, Index: 3, IsFinal: false}
	wire2 := notFinal.Encode()
	word2 := uint16(wire2[8])<<8 | uint16(wire2[9])
	if word2>>15 != 0 {
		t.Fatalf("expected final bit clear")
	}
	if word2&0x7FFF != 3 {
		t.Fatalf("expected index 3, got %d", word2&0x7FFF)
	}
}

func TestFragmenterSingleFragment(t *testing.T) {
	fr := NewFragmenter(500)
	data := make([]byte, 100)
	frags := fr.MakeFragments(data)

	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frags))
	}
	if !frags[0].IsFinal || frags[0].Index != 0 {
		t.Fatalf("unexpected single fragment metadata: %+v", frags[0])
	}
}

func TestFragmenterMultipleFragments(t *testing.T) {
	fr := NewFragmenter(10)
	data := make([]byte, 25)
	frags := fr.MakeFragments(data)

	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frags))
	}
	if frags[0].IsFinal || frags[1].IsFinal || !frags[2].IsFinal {
		t.Fatalf("unexpected final flags: %+v", frags)
	}
	for i, f := range frags {
		if int(f.Index) != i {
			t.Fatalf("fragment %d has index %d", i, f.Index)
		}
	}
}

func TestFragmenterEmptyPayload(t *testing.T) {
	fr := NewFragmenter(500)
	frags := fr.MakeFragments(nil)
	if len(frags) != 1 || !frags[0].IsFinal || len(frags[0].Payload) != 0 {
		t.Fatalf("expected single empty final fragment, got %+v", frags)
	}
}

func TestAssemblySingleFragment(t *testing.T) {
	a := NewFragmentAssembly()
	payload := []byte{1, 2, 3, 4, 5}

	got, ok := a.AddFragment(Fragment{InstructionID: 1, Index: 0, IsFinal: true, Payload: payload})
	if !ok {
		t.Fatalf("expected assembly to complete")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestAssemblyOutOfOrder(t *testing.T) {
	fr := NewFragmenter(10)
	payload := make([]byte, 30)
	for i := range payload {
		payload[i] = byte(i)
	}
	frags := fr.MakeFragments(payload)
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frags))
	}

	a := NewFragmentAssembly()
	order := []int{2, 1, 0}
	var result []byte
	var done bool
	for i, idx := range order {
		result, done = a.AddFragment(frags[idx])
		if i < len(order)-1 && done {
			t.Fatalf("assembly completed too early after fragment %d", idx)
		}
	}
	if !done {
		t.Fatalf("expected assembly to complete after final insertion")
	}
	if !bytes.Equal(result, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
}

func TestAssemblyNewIDResetsPartialState(t *testing.T) {
	a := NewFragmentAssembly()

	_, done := a.AddFragment(Fragment{InstructionID: 1, Index: 0, IsFinal: false, Payload: []byte{1, 2, 3}})
	if done {
		t.Fatalf("did not expect completion on a non-final fragment")
	}

	got, done := a.AddFragment(Fragment{InstructionID: 2, Index: 0, IsFinal: true, Payload: []byte{9, 8, 7}})
	if !done {
		t.Fatalf("expected new id to complete immediately")
	}
	if !bytes.Equal(got, []byte{9, 8, 7}) {
		t.Fatalf("unexpected reassembled payload: %v", got)
	}
}

func TestFragmenterAssemblyRoundTrip(t *testing.T) {
	fr := NewFragmenter(200)
	original := make([]byte, 2000)
	for i := range original {
		original[i] = byte(i % 256)
	}

	frags := fr.MakeFragments(original)
	if len(frags) < 5 {
		t.Fatalf("expected at least 5 fragments for 2000 bytes at MTU 200, got %d", len(frags))
	}

	a := NewFragmentAssembly()
	var result []byte
	var done bool
	for _, f := range frags {
		result, done = a.AddFragment(f)
	}
	if !done {
		t.Fatalf("expected assembly to complete")
	}
	if !bytes.Equal(result, original) {
		t.Fatalf("reassembled payload mismatch")
	}
}

func TestDecodeFragmentRejectsShort(t *testing.T) {
	if _, err := DecodeFragment(make([]byte, 5)); err == nil {
		t.Fatalf("expected ErrFragmentTooShort")
	}
}
