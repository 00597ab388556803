package liveness

import (
	"net"
	"time"
)

// DefaultStaleThreshold is how long a session may go without inbound
// traffic before the host should consider the peer dead. The carrier's
// own retransmission has no ceiling (spec §9 design notes), so this
// decision is pushed up to the host.
const DefaultStaleThreshold = 60 * time.Second

// Prober sends ICMP echo requests to a peer address and waits for the
// reply, as a liveness signal independent of the SSP session's own
// traffic (a peer whose UDP path is dead may still answer ICMP, or vice
// versa on paths that filter ICMP but carry UDP fine).
type Prober struct {
	socket  *Socket
	dest    net.IP
	id      uint16
	nextSeq uint16
	timeout time.Duration
}

// NewProber opens an ICMP socket and prepares to probe destIP. id
// identifies this prober's echo requests; pass a value stable for the
// lifetime of the session (e.g. derived from its port).
func NewProber(destIP net.IP, id uint16, timeout time.Duration) (*Prober, error) {
	socket, err := NewSocket(destIP)
	if err != nil {
		return nil, err
	}
	return &Prober{socket: socket, dest: destIP, id: id, timeout: timeout}, nil
}

// Close releases the underlying socket.
func (p *Prober) Close() error {
	return p.socket.Close()
}

// Probe sends one echo request and blocks up to the configured timeout
// for a reply, returning the observed round-trip time.
func (p *Prober) Probe() (time.Duration, error) {
	seq := p.nextSeq
	p.nextSeq++

	sent := time.Now()
	if err := p.socket.SendEchoRequest(p.dest, p.id, seq, nil); err != nil {
		return 0, err
	}
	if _, err := p.socket.ReadEchoReplyFiltered(p.id, p.timeout); err != nil {
		return 0, err
	}
	return time.Since(sent), nil
}

// IsStale reports whether lastActivity is old enough that the host
// should consider the peer dead and tear the session down, using
// threshold as the staleness window.
func IsStale(lastActivity time.Time, threshold time.Duration) bool {
	return time.Since(lastActivity) >= threshold
}
