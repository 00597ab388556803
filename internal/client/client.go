// Package client composes the crypto, fragment, SSP, and stream layers
// into the single facade a host drives: decrypt/reassemble/deliver on
// recv_udp, write/fragment/encrypt on send, and retransmission/heartbeat
// management on tick.
package client

import (
	"fmt"
	"log/slog"

	"github.com/postalsys/moshrelay/internal/crypto"
	"github.com/postalsys/moshrelay/internal/logging"
	"github.com/postalsys/moshrelay/internal/protocol"
	"github.com/postalsys/moshrelay/internal/ssp"
	"github.com/postalsys/moshrelay/internal/stream"
	"github.com/postalsys/moshrelay/internal/transport"
)

const (
	// DefaultMTU is the conservative default network MTU in bytes.
	DefaultMTU = 500

	// CryptoOverhead is the bytes added to a fragment payload by the wire
	// format: nonce_tail(8) + tag(16) + dseq(8) + ts(2) + ts_reply(2) +
	// fragment header(10).
	CryptoOverhead = 46

	// MinFragmentPayload is the smallest allowed per-fragment payload,
	// enforced regardless of how small the configured MTU is.
	MinFragmentPayload = 64
)

// Stats reports facade-level counters for observability.
type Stats struct {
	SRTTMs        float64
	RTOMs         uint64
	NextSendNum   uint64
	LastRecvNum   uint64
	PendingCount  int
	TotalSentBytes uint64
	TotalRecvBytes uint64
}

// Client is the host-facing facade described in spec §4.6. It owns one
// CryptoSession, one Fragmenter/FragmentAssembly pair, one SspSession, and
// one StreamChannel, and has exactly one caller per the carrier's
// single-threaded scheduling model.
type Client struct {
	crypto    *crypto.Session
	direction crypto.Direction

	fragmenter *transport.Fragmenter
	assembly   *transport.FragmentAssembly

	ssp    *ssp.Session
	stream *stream.Channel

	lastRemoteTimestamp uint16

	log *slog.Logger
}

// New constructs a Client from a pre-shared key and this endpoint's send
// direction. mtu <= 0 selects DefaultMTU; the effective per-fragment
// payload is mtu minus CryptoOverhead, floored at MinFragmentPayload.
// heartbeatIntervalMs <= 0 selects ssp.HeartbeatIntervalMs.
func New(key []byte, direction crypto.Direction, mtu int, heartbeatIntervalMs int, log *slog.Logger) (*Client, error) {
	sess, err := crypto.NewSession(key)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if log == nil {
		log = logging.NopLogger()
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	appMTU := mtu - CryptoOverhead
	if appMTU < MinFragmentPayload {
		appMTU = MinFragmentPayload
	}
	if heartbeatIntervalMs < 0 {
		heartbeatIntervalMs = 0
	}

	return &Client{
		crypto:              sess,
		direction:           direction,
		fragmenter:          transport.NewFragmenter(appMTU),
		assembly:            transport.NewFragmentAssembly(),
		ssp:                 ssp.NewSessionWithHeartbeat(log, uint64(heartbeatIntervalMs)),
		stream:              stream.NewChannel(),
		lastRemoteTimestamp: uint16(transport.TimestampUninitialized),
		log:                 log,
	}, nil
}

// RecvUDP processes one inbound UDP datagram. Every failure along the
// path (decryption, fragment parsing, instruction decoding) is swallowed
// per spec §7: a lossy or hostile network must not disturb session state.
// Returns whatever the stream's recv buffer holds once processing
// settles, which may be empty if no new data became available.
func (c *Client) RecvUDP(udpBytes []byte, nowMs uint64) []byte {
	decrypted, err := c.crypto.Decrypt(udpBytes)
	if err != nil {
		c.log.Debug("dropping undecryptable packet", logging.KeyError, err)
		return c.stream.ReadAvailable()
	}
	c.lastRemoteTimestamp = decrypted.Timestamp

	frag, err := transport.DecodeFragment(decrypted.Payload)
	if err != nil {
		c.log.Debug("dropping malformed fragment", logging.KeyError, err)
		return c.stream.ReadAvailable()
	}

	instrBytes, complete := c.assembly.AddFragment(frag)
	if !complete {
		return c.stream.ReadAvailable()
	}

	instr, err := protocol.Decode(instrBytes)
	if err != nil {
		c.log.Debug("dropping undecodable instruction", logging.KeyError, err)
		return c.stream.ReadAvailable()
	}

	if payload, ok := c.ssp.RecvInstruction(instr, nowMs); ok {
		c.stream.ApplyDiff(payload)
	}

	return c.stream.ReadAvailable()
}

// Send queues host bytes for transmission and immediately drains them
// through the SSP/fragment/crypto pipeline, returning the UDP payloads to
// transmit. An error here is a programming bug (e.g. a corrupted crypto
// session), not network noise, and aborts the call: see flushToUDP.
func (c *Client) Send(data []byte, nowMs uint64) ([][]byte, error) {
	c.stream.Write(data)
	return c.flushToUDP(nowMs)
}

// Tick drives retransmission and heartbeat generation without queuing any
// new host data, returning the UDP payloads to transmit.
func (c *Client) Tick(nowMs uint64) ([][]byte, error) {
	return c.flushToUDP(nowMs)
}

// flushToUDP drains any pending stream writes into the SSP session, runs
// its Tick, and fragments/encrypts every resulting Instruction into
// independent UDP datagrams. Unlike RecvUDP's ingress path, an encryption
// failure here is a programming bug per spec §7 and is propagated to the
// caller rather than swallowed: the call aborts at the first failure.
func (c *Client) flushToUDP(nowMs uint64) ([][]byte, error) {
	if pending := c.stream.TakePendingDiff(); pending != nil {
		c.ssp.PushPayload(pending)
	}

	instructions := c.ssp.Tick(nowMs)
	if len(instructions) == 0 {
		return nil, nil
	}

	var packets [][]byte
	ts := uint16(transport.NewTimestamp16(nowMs))
	for _, instrBytes := range instructions {
		frags := c.fragmenter.MakeFragments(instrBytes)
		for _, frag := range frags {
			wire, err := c.crypto.Encrypt(c.direction, ts, c.lastRemoteTimestamp, frag.Encode())
			if err != nil {
				return nil, fmt.Errorf("client: encrypt fragment: %w", err)
			}
			packets = append(packets, wire)
		}
	}
	return packets, nil
}

// HasPendingRead reports whether ReadPending would return any bytes.
func (c *Client) HasPendingRead() bool {
	return c.stream.HasPendingRead()
}

// ReadPending drains and returns any bytes buffered for the host to read,
// independent of RecvUDP's return value.
func (c *Client) ReadPending() []byte {
	return c.stream.ReadAvailable()
}

// Stats returns current session counters.
func (c *Client) Stats() Stats {
	sspStats := c.ssp.GetStats()
	return Stats{
		SRTTMs:         sspStats.SRTTMs,
		RTOMs:          sspStats.RTOMs,
		NextSendNum:    sspStats.SendNum,
		LastRecvNum:    sspStats.RecvNum,
		PendingCount:   sspStats.PendingCount,
		TotalSentBytes: c.stream.TotalSentBytes(),
		TotalRecvBytes: c.stream.TotalRecvBytes(),
	}
}
