package relay

import "sync"

// DefaultPeerBuffer bounds a connection's outbound queue. Messages beyond
// it are dropped rather than blocking the sender.
const DefaultPeerBuffer = 16

// Peer is the registry's handle on one live connection. Other connections
// hand it messages through Enqueue; a single writer drains Outbound.
type Peer struct {
	identity Identity
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewPeer creates an open peer with an outbound queue of size buffer.
func NewPeer(id Identity, buffer int) *Peer {
	if buffer <= 0 {
		buffer = DefaultPeerBuffer
	}
	return &Peer{
		identity: id,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Identity returns who the peer speaks for.
func (p *Peer) Identity() Identity { return p.identity }

// Enqueue queues msg for delivery. It never blocks and reports false when
// the peer is closed or its queue is full.
func (p *Peer) Enqueue(msg []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

// Outbound is drained by the connection's writer.
func (p *Peer) Outbound() <-chan []byte { return p.send }

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Open reports whether the peer still accepts messages.
func (p *Peer) Open() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Close marks the peer closed. Safe to call more than once.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
}
