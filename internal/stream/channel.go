// Package stream implements the duplex byte-stream buffer that decouples
// the host's read/write cadence from the transport's tick cadence.
package stream

import "bytes"

// Channel holds two independent FIFO byte buffers: recv accumulates
// delivered diffs for the host to read, send accumulates host writes for
// the transport to drain. It has exactly one caller (the client facade)
// per the carrier's single-threaded scheduling model, so it carries no
// internal locking.
type Channel struct {
	recv bytes.Buffer
	send bytes.Buffer

	totalRecvBytes uint64
	totalSentBytes uint64
}

// NewChannel constructs an empty Channel.
func NewChannel() *Channel {
	return &Channel{}
}

// ApplyDiff appends delivered bytes to the receive buffer.
func (c *Channel) ApplyDiff(diff []byte) {
	c.recv.Write(diff)
	c.totalRecvBytes += uint64(len(diff))
}

// ReadAvailable drains and returns everything currently buffered for the
// host to read. Returns an empty slice, never nil, when nothing is
// pending.
func (c *Channel) ReadAvailable() []byte {
	if c.recv.Len() == 0 {
		return []byte{}
	}
	out := make([]byte, c.recv.Len())
	c.recv.Read(out)
	return out
}

// HasPendingRead reports whether ReadAvailable would return any bytes.
func (c *Channel) HasPendingRead() bool {
	return c.recv.Len() > 0
}

// Write appends host bytes to the send buffer, to be drained into the
// transport on the next Tick.
func (c *Channel) Write(data []byte) {
	c.send.Write(data)
	c.totalSentBytes += uint64(len(data))
}

// TakePendingDiff drains and returns everything buffered for the
// transport to send. Returns nil when nothing is pending.
func (c *Channel) TakePendingDiff() []byte {
	if c.send.Len() == 0 {
		return nil
	}
	out := make([]byte, c.send.Len())
	c.send.Read(out)
	return out
}

// TotalRecvBytes returns the cumulative number of bytes ever applied via
// ApplyDiff.
func (c *Channel) TotalRecvBytes() uint64 {
	return c.totalRecvBytes
}

// TotalSentBytes returns the cumulative number of bytes ever queued via
// Write.
func (c *Channel) TotalSentBytes() uint64 {
	return c.totalSentBytes
}
