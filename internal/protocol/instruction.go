// Package protocol implements the Instruction wire codec: a tagged
// length-delimited encoding compatible with mosh's original protobuf-2
// transportinstruction.proto definition, built on protowire's low-level
// varint/tag primitives rather than full protoc code generation.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is the mosh SSP protocol version this codec speaks.
const ProtocolVersion uint64 = 2

// Field numbers, matching mosh's transportinstruction.proto byte-for-byte
// so an unmodified mosh peer can interoperate.
const (
	fieldProtocolVersion = protowire.Number(1)
	fieldOldNum          = protowire.Number(2)
	fieldNewNum          = protowire.Number(3)
	fieldAckNum          = protowire.Number(4)
	fieldThrowawayNum    = protowire.Number(5)
	fieldDiff            = protowire.Number(6)
	fieldChaff           = protowire.Number(7)
)

var (
	// ErrDecodeFailed is returned when the wire bytes are not a
	// well-formed tagged encoding.
	ErrDecodeFailed = errors.New("protocol: instruction decode failed")

	// ErrInvalidProtocolVersion is returned when an explicit
	// protocol_version field is present and does not equal ProtocolVersion.
	ErrInvalidProtocolVersion = errors.New("protocol: invalid protocol version")
)

// Instruction is the SSP application data unit: it carries a diff plus
// sequencing metadata (old/new state numbers, cumulative ack, and the
// throwaway watermark).
type Instruction struct {
	OldNum          uint64
	NewNum          uint64
	AckNum          uint64
	ThrowawayNum    uint64
	Diff            []byte
	ProtocolVersion uint64
	// HasProtocolVersion tracks whether protocol_version was present on
	// the wire; the encoder always sets it, but the decoder keeps this
	// distinction explicit per the field's "absence means default 0"
	// protobuf-2 semantics.
	HasProtocolVersion bool
}

// NewSend builds a send Instruction carrying a diff.
func NewSend(oldNum, newNum, ackNum, throwawayNum uint64, diff []byte) Instruction {
	return Instruction{
		OldNum:             oldNum,
		NewNum:             newNum,
		AckNum:             ackNum,
		ThrowawayNum:       throwawayNum,
		Diff:               diff,
		ProtocolVersion:    ProtocolVersion,
		HasProtocolVersion: true,
	}
}

// NewAck builds a pure-ACK Instruction (no diff, new_num/old_num zero),
// used for heartbeats.
func NewAck(ackNum, throwawayNum uint64) Instruction {
	return Instruction{
		OldNum:             0,
		NewNum:             0,
		AckNum:             ackNum,
		ThrowawayNum:       throwawayNum,
		ProtocolVersion:    ProtocolVersion,
		HasProtocolVersion: true,
	}
}

// HasDiff reports whether the instruction carries a non-empty diff.
func (i Instruction) HasDiff() bool {
	return len(i.Diff) > 0
}

// Encode serializes the instruction to its tagged wire form. Absent
// optional fields (zero diff) are omitted.
func (i Instruction) Encode() []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, fieldOldNum, protowire.VarintType)
	buf = protowire.AppendVarint(buf, i.OldNum)

	buf = protowire.AppendTag(buf, fieldNewNum, protowire.VarintType)
	buf = protowire.AppendVarint(buf, i.NewNum)

	buf = protowire.AppendTag(buf, fieldAckNum, protowire.VarintType)
	buf = protowire.AppendVarint(buf, i.AckNum)

	buf = protowire.AppendTag(buf, fieldThrowawayNum, protowire.VarintType)
	buf = protowire.AppendVarint(buf, i.ThrowawayNum)

	if len(i.Diff) > 0 {
		buf = protowire.AppendTag(buf, fieldDiff, protowire.BytesType)
		buf = protowire.AppendBytes(buf, i.Diff)
	}

	if i.HasProtocolVersion {
		buf = protowire.AppendTag(buf, fieldProtocolVersion, protowire.VarintType)
		buf = protowire.AppendVarint(buf, i.ProtocolVersion)
	}

	return buf
}

// Decode parses a tagged wire Instruction. Unknown fields (e.g. chaff) are
// skipped rather than rejected, matching protobuf's forward-compatibility
// contract.
func Decode(wire []byte) (Instruction, error) {
	var instr Instruction

	for len(wire) > 0 {
		num, typ, n := protowire.ConsumeTag(wire)
		if n < 0 {
			return Instruction{}, fmt.Errorf("%w: %v", ErrDecodeFailed, protowire.ParseError(n))
		}
		wire = wire[n:]

		switch num {
		case fieldOldNum:
			v, m := protowire.ConsumeVarint(wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			instr.OldNum = v
			wire = wire[m:]
		case fieldNewNum:
			v, m := protowire.ConsumeVarint(wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			instr.NewNum = v
			wire = wire[m:]
		case fieldAckNum:
			v, m := protowire.ConsumeVarint(wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			instr.AckNum = v
			wire = wire[m:]
		case fieldThrowawayNum:
			v, m := protowire.ConsumeVarint(wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			instr.ThrowawayNum = v
			wire = wire[m:]
		case fieldDiff:
			v, m := protowire.ConsumeBytes(wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			if len(v) > 0 {
				instr.Diff = append([]byte(nil), v...)
			}
			wire = wire[m:]
		case fieldChaff:
			// chaff is padding with no semantic meaning to this carrier;
			// consume and discard it.
			_, m := protowire.ConsumeBytes(wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			wire = wire[m:]
		case fieldProtocolVersion:
			v, m := protowire.ConsumeVarint(wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			instr.ProtocolVersion = v
			instr.HasProtocolVersion = true
			wire = wire[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, wire)
			if m < 0 {
				return Instruction{}, ErrDecodeFailed
			}
			wire = wire[m:]
		}
	}

	if instr.HasProtocolVersion && instr.ProtocolVersion != ProtocolVersion {
		return Instruction{}, fmt.Errorf("%w: %d", ErrInvalidProtocolVersion, instr.ProtocolVersion)
	}

	return instr, nil
}
