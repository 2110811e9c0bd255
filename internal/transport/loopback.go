package transport

import (
	"sync"
	"sync/atomic"
)

// DropFilter reports whether the n-th (0-based) buffer sent on a link is
// lost.
type DropFilter func(n uint64, b []byte) bool

// Loopback is one end of an in-memory link. Emit hands a copy of the buffer
// to the peer's handler on the calling goroutine.
type Loopback struct {
	mu      sync.RWMutex
	peer    *Loopback
	handler Handler
	drop    DropFilter
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewLoopbackPair returns two connected ends.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a, b := &Loopback{}, &Loopback{}
	a.peer, b.peer = b, a
	return a, b
}

// Bind sets the handler for buffers arriving at this end.
func (l *Loopback) Bind(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// SetDropFilter installs loss on buffers sent from this end.
func (l *Loopback) SetDropFilter(f DropFilter) {
	l.mu.Lock()
	l.drop = f
	l.mu.Unlock()
}

func (l *Loopback) Emit(b []byte) error {
	l.mu.RLock()
	closed, drop, peer := l.closed, l.drop, l.peer
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	n := l.sent.Add(1) - 1
	if drop != nil && drop(n, b) {
		l.dropped.Add(1)
		return nil
	}
	peer.mu.RLock()
	h, peerClosed := peer.handler, peer.closed
	peer.mu.RUnlock()
	if peerClosed {
		return nil
	}
	if h == nil {
		return ErrNoPeer
	}
	h(append([]byte(nil), b...))
	return nil
}

// Stats returns buffers offered to Emit and buffers lost to the filter.
func (l *Loopback) Stats() (sent, dropped uint64) {
	return l.sent.Load(), l.dropped.Load()
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
