// Package transport implements the fragment layer that splits a
// variable-length Instruction's encoded bytes into MTU-sized wire
// fragments, and reassembles them under loss and reordering.
package transport

import (
	"encoding/binary"
	"errors"
)

const (
	// FragmentHeaderLen is the size of the fixed fragment header:
	// instruction_id (8 bytes) + frag_word (2 bytes).
	FragmentHeaderLen = 10

	// finalBit marks the high bit of frag_word as the final-fragment flag.
	finalBit = uint16(0x8000)

	// fragmentIndexMask isolates the low 15 bits of frag_word (the index).
	fragmentIndexMask = uint16(0x7FFF)

	// MaxFragmentIndex is the largest representable 0-based fragment
	// index: 15 bits gives at most 32,768 fragments per Instruction.
	MaxFragmentIndex = 32767
)

// ErrFragmentTooShort is returned when a wire fragment is shorter than the
// fixed header.
var ErrFragmentTooShort = errors.New("transport: fragment shorter than header")

// Fragment is the smallest unit sent/received on the wire: a bounded slice
// of an Instruction's encoded bytes plus the metadata needed to reassemble
// it.
type Fragment struct {
	InstructionID uint64
	Index         uint16
	IsFinal       bool
	Payload       []byte
}

// Encode serializes the fragment to its wire form:
// instruction_id[8 BE] || frag_word[2 BE] || payload.
func (f Fragment) Encode() []byte {
	out := make([]byte, FragmentHeaderLen+len(f.Payload))
	binary.BigEndian.PutUint64(out[0:8], f.InstructionID)

	word := f.Index & fragmentIndexMask
	if f.IsFinal {
		word |= finalBit
	}
	binary.BigEndian.PutUint16(out[8:10], word)

	copy(out[FragmentHeaderLen:], f.Payload)
	return out
}

// DecodeFragment parses a wire fragment produced by Encode.
func DecodeFragment(wire []byte) (Fragment, error) {
	if len(wire) < FragmentHeaderLen {
		return Fragment{}, ErrFragmentTooShort
	}
	id := binary.BigEndian.Uint64(wire[0:8])
	word := binary.BigEndian.Uint16(wire[8:10])

	payload := make([]byte, len(wire)-FragmentHeaderLen)
	copy(payload, wire[FragmentHeaderLen:])

	return Fragment{
		InstructionID: id,
		Index:         word & fragmentIndexMask,
		IsFinal:       word&finalBit != 0,
		Payload:       payload,
	}, nil
}

// Fragmenter splits Instruction byte strings into MTU-sized Fragments,
// numbering each batch under a fresh, monotonically increasing
// instruction id.
type Fragmenter struct {
	nextID  uint64
	appMTU  int
}

// NewFragmenter constructs a Fragmenter. appMTU is the maximum fragment
// payload size in bytes (network MTU minus crypto and fragment header
// overhead).
func NewFragmenter(appMTU int) *Fragmenter {
	return &Fragmenter{nextID: 1, appMTU: appMTU}
}

// MakeFragments allocates a fresh instruction id and chunks data into
// fragments of at most appMTU bytes each. Empty input still produces a
// single empty-payload final fragment, used to carry heartbeat-style
// Instructions.
func (f *Fragmenter) MakeFragments(data []byte) []Fragment {
	id := f.nextID
	f.nextID++

	if len(data) == 0 {
		return []Fragment{{InstructionID: id, Index: 0, IsFinal: true}}
	}

	numChunks := (len(data) + f.appMTU - 1) / f.appMTU
	frags := make([]Fragment, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * f.appMTU
		end := start + f.appMTU
		if end > len(data) {
			end = len(data)
		}
		payload := make([]byte, end-start)
		copy(payload, data[start:end])

		frags = append(frags, Fragment{
			InstructionID: id,
			Index:         uint16(i),
			IsFinal:       i == numChunks-1,
			Payload:       payload,
		})
	}
	return frags
}

// CurrentID returns the next instruction id that will be allocated (test
// introspection hook).
func (f *Fragmenter) CurrentID() uint64 {
	return f.nextID
}

// FragmentAssembly reassembles Fragments into Instruction byte strings.
// Receipt of a fragment whose instruction id differs from the one
// currently being assembled discards any partial state before insertion:
// the newest id always wins.
type FragmentAssembly struct {
	currentID   uint64
	hasCurrent  bool
	arrived     map[uint16][]byte
	finalIndex  uint16
	hasFinal    bool
}

// NewFragmentAssembly constructs an empty FragmentAssembly.
func NewFragmentAssembly() *FragmentAssembly {
	return &FragmentAssembly{arrived: make(map[uint16][]byte)}
}

// AddFragment inserts a fragment and returns the reassembled Instruction
// bytes once every index from 0 through the final fragment's index has
// arrived for the current instruction id. Returns (nil, false) while
// assembly is incomplete.
func (a *FragmentAssembly) AddFragment(frag Fragment) ([]byte, bool) {
	a.resetIfNewID(frag.InstructionID)

	if frag.IsFinal {
		a.finalIndex = frag.Index
		a.hasFinal = true
	}
	a.arrived[frag.Index] = frag.Payload

	return a.tryAssemble()
}

// resetIfNewID clears partial reassembly state when a newer instruction
// id arrives. Returns true if a reset occurred.
func (a *FragmentAssembly) resetIfNewID(id uint64) bool {
	if a.hasCurrent && a.currentID == id {
		return false
	}
	a.arrived = make(map[uint16][]byte)
	a.hasFinal = false
	a.currentID = id
	a.hasCurrent = true
	return true
}

func (a *FragmentAssembly) tryAssemble() ([]byte, bool) {
	if !a.hasFinal {
		return nil, false
	}
	for i := uint16(0); i <= a.finalIndex; i++ {
		if _, ok := a.arrived[i]; !ok {
			return nil, false
		}
	}

	var total int
	for i := uint16(0); i <= a.finalIndex; i++ {
		total += len(a.arrived[i])
	}
	out := make([]byte, 0, total)
	for i := uint16(0); i <= a.finalIndex; i++ {
		out = append(out, a.arrived[i]...)
	}
	return out, true
}

// CurrentID returns the instruction id currently being assembled, if any.
func (a *FragmentAssembly) CurrentID() (uint64, bool) {
	return a.currentID, a.hasCurrent
}
