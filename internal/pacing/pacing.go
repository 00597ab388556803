// Package pacing provides host-side byte-rate pacing for the bursty
// output of Tick/Send: the carrier core applies no pacing of its own
// (spec design notes — a single RTO firing against many pending entries
// retransmits them all in one call), so a host that wants to smooth
// bursts onto the wire wraps its datagram writes with a Pacer.
package pacing

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultBurstBytes is the default token bucket burst size: one
// 1500-byte (Ethernet MTU) datagram.
const DefaultBurstBytes = 1500

// Pacer rate-limits datagram writes using a token-bucket algorithm, one
// token per byte.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer limiting throughput to bytesPerSecond bytes
// per second, with the given burst size in bytes. bytesPerSecond <= 0
// disables pacing: WaitN and SendAll return immediately.
func NewPacer(bytesPerSecond int64, burstBytes int) *Pacer {
	if bytesPerSecond <= 0 {
		return &Pacer{}
	}
	if burstBytes <= 0 {
		burstBytes = DefaultBurstBytes
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burstBytes)}
}

// WaitN blocks until n bytes' worth of tokens are available, or ctx is
// cancelled. A Pacer with no limiter configured (disabled) never blocks.
func (p *Pacer) WaitN(ctx context.Context, n int) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.WaitN(ctx, n)
}

// SendAll paces and hands each datagram in order to send, stopping at
// the first error. Intended to wrap the output of Client.Send/Tick
// before writing to a UDP socket.
func (p *Pacer) SendAll(ctx context.Context, datagrams [][]byte, send func([]byte) error) error {
	for _, dg := range datagrams {
		if err := p.WaitN(ctx, len(dg)); err != nil {
			return err
		}
		if err := send(dg); err != nil {
			return err
		}
	}
	return nil
}
