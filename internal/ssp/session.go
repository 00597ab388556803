// Package ssp implements the SSP transport state machine: sequence
// numbering, piggybacked acknowledgements, cumulative-ACK retransmission
// with Jacobson/Karels RTT smoothing, heartbeats, and throwaway
// watermarks for stale-state eviction.
package ssp

import (
	"log/slog"

	"github.com/postalsys/moshrelay/internal/logging"
	"github.com/postalsys/moshrelay/internal/protocol"
)

const (
	// HeartbeatIntervalMs is how long the sender waits with nothing else
	// to send before emitting a pure-ACK heartbeat Instruction.
	HeartbeatIntervalMs uint64 = 3000

	// RTOMinMs and RTOMaxMs clamp the retransmission timeout.
	RTOMinMs uint64 = 50
	RTOMaxMs uint64 = 1000

	// RTOInitialMs is the RTO before any RTT sample has been taken.
	RTOInitialMs uint64 = 1000

	// rtoClockGranularityMs is G in RFC 6298's RTO formula.
	rtoClockGranularityMs = 50.0
)

// pendingInstruction is a sent-but-not-yet-acknowledged Instruction.
type pendingInstruction struct {
	num            uint64
	payload        []byte
	sentAtMs       uint64
	retransmitCount uint32
}

type sendState struct {
	nextSendNum uint64
	lastAcked   uint64
	pending     []pendingInstruction
	outgoing    []byte
	lastSendMs  uint64
}

type recvState struct {
	lastRecvNum  uint64
	throwawayNum uint64
	lastRecvMs   uint64
}

// Stats reports session counters for observability.
type Stats struct {
	SRTTMs       float64
	RTOMs        uint64
	SendNum      uint64
	RecvNum      uint64
	PendingCount int
	LastRecvMs   uint64
}

// Session is the SSP transport state machine. It has exactly one caller
// per spec's single-threaded cooperative scheduling model and performs no
// internal locking.
type Session struct {
	send sendState
	recv recvState

	srttMs   float64
	rttvarMs float64
	rtoMs    uint64

	heartbeatIntervalMs uint64

	log *slog.Logger
}

// NewSession constructs an SSP session with the initial state described in
// the data model: next_send_num starts at 1, RTO starts at RTOInitialMs,
// heartbeats use the default HeartbeatIntervalMs.
func NewSession(log *slog.Logger) *Session {
	return NewSessionWithHeartbeat(log, HeartbeatIntervalMs)
}

// NewSessionWithHeartbeat is NewSession with an overridden heartbeat
// interval; heartbeatIntervalMs <= 0 selects HeartbeatIntervalMs.
func NewSessionWithHeartbeat(log *slog.Logger, heartbeatIntervalMs uint64) *Session {
	if log == nil {
		log = logging.NopLogger()
	}
	if heartbeatIntervalMs == 0 {
		heartbeatIntervalMs = HeartbeatIntervalMs
	}
	return &Session{
		send:                sendState{nextSendNum: 1},
		rtoMs:               RTOInitialMs,
		heartbeatIntervalMs: heartbeatIntervalMs,
		log:                 log,
	}
}

// PushPayload appends bytes to the outgoing buffer to be drained on the
// next Tick.
func (s *Session) PushPayload(data []byte) {
	s.send.outgoing = append(s.send.outgoing, data...)
}

// Tick drives retransmission and heartbeat generation, returning zero or
// more encoded Instructions to transmit.
func (s *Session) Tick(nowMs uint64) [][]byte {
	var toSend [][]byte

	if len(s.send.outgoing) > 0 {
		diff := s.send.outgoing
		s.send.outgoing = nil

		instr := s.makeSendInstruction(diff)
		encoded := instr.Encode()
		s.enqueuePending(instr.NewNum, encoded, nowMs)
		toSend = append(toSend, encoded)
	}

	for i := range s.send.pending {
		p := &s.send.pending[i]
		if saturatingSub(nowMs, p.sentAtMs) >= s.rtoMs {
			p.sentAtMs = nowMs
			p.retransmitCount++
			toSend = append(toSend, p.payload)
			s.log.Debug("retransmitting instruction",
				logging.KeyInstructionNum, p.num,
				logging.KeyRTOMillis, s.rtoMs)
		}
	}

	if len(toSend) == 0 && s.NeedsHeartbeat(nowMs) {
		hb := s.MakeAck()
		toSend = append(toSend, hb.Encode())
		s.send.lastSendMs = nowMs
	}

	return toSend
}

// RecvInstruction processes a received, decoded Instruction: it runs ACK
// processing, raises the throwaway watermark, and returns the carried
// diff if the instruction delivers fresh application data.
func (s *Session) RecvInstruction(instr protocol.Instruction, nowMs uint64) ([]byte, bool) {
	s.processAck(instr.AckNum, nowMs)

	if instr.ThrowawayNum > s.recv.throwawayNum {
		s.recv.throwawayNum = instr.ThrowawayNum
	}
	s.recv.lastRecvMs = nowMs

	if instr.NewNum == 0 {
		return nil, false // heartbeat
	}
	if instr.NewNum <= s.recv.lastRecvNum {
		return nil, false // duplicate or reorder
	}
	s.recv.lastRecvNum = instr.NewNum

	if instr.HasDiff() {
		return instr.Diff, true
	}
	return nil, false
}

// MakeAck constructs the pure-ACK Instruction form without enqueueing or
// sending it.
func (s *Session) MakeAck() protocol.Instruction {
	return protocol.NewAck(s.recv.lastRecvNum, s.recv.throwawayNum)
}

// NeedsHeartbeat reports whether a heartbeat is due: no traffic has been
// sent in the session's configured heartbeat interval.
func (s *Session) NeedsHeartbeat(nowMs uint64) bool {
	return saturatingSub(nowMs, s.send.lastSendMs) >= s.heartbeatIntervalMs
}

// GetStats returns current session counters.
func (s *Session) GetStats() Stats {
	return Stats{
		SRTTMs:       s.srttMs,
		RTOMs:        s.rtoMs,
		SendNum:      s.send.nextSendNum,
		RecvNum:      s.recv.lastRecvNum,
		PendingCount: len(s.send.pending),
		LastRecvMs:   s.recv.lastRecvMs,
	}
}

func (s *Session) makeSendInstruction(diff []byte) protocol.Instruction {
	oldNum := s.send.lastAcked
	newNum := s.send.nextSendNum
	s.send.nextSendNum++

	return protocol.NewSend(oldNum, newNum, s.recv.lastRecvNum, s.recv.throwawayNum, diff)
}

func (s *Session) enqueuePending(num uint64, payload []byte, nowMs uint64) {
	s.send.pending = append(s.send.pending, pendingInstruction{
		num:      num,
		payload:  payload,
		sentAtMs: nowMs,
	})
	s.send.lastSendMs = nowMs
}

// processAck drains the pending queue from the front while its num is
// <= ackNum, feeding first-transmission RTT samples to updateRTT (Karn's
// rule: retransmitted segments never contribute a sample).
func (s *Session) processAck(ackNum, nowMs uint64) {
	if ackNum <= s.send.lastAcked {
		return
	}

	i := 0
	for i < len(s.send.pending) && s.send.pending[i].num <= ackNum {
		p := s.send.pending[i]
		if p.retransmitCount == 0 {
			sample := saturatingSub(nowMs, p.sentAtMs)
			s.updateRTT(sample)
		}
		i++
	}
	s.send.pending = s.send.pending[i:]
	s.send.lastAcked = ackNum
}

// updateRTT applies the RFC 6298 / Jacobson-Karels smoothing formula.
func (s *Session) updateRTT(rttSampleMs uint64) {
	r := float64(rttSampleMs)

	if s.srttMs == 0 {
		s.srttMs = r
		s.rttvarMs = r / 2
	} else {
		const alpha = 0.125
		const beta = 0.25
		s.rttvarMs = (1-beta)*s.rttvarMs + beta*abs(s.srttMs-r)
		s.srttMs = (1-alpha)*s.srttMs + alpha*r
	}

	rto := s.srttMs + max(rtoClockGranularityMs, 4*s.rttvarMs)
	s.rtoMs = clampU64(uint64(rto), RTOMinMs, RTOMaxMs)
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func clampU64(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
