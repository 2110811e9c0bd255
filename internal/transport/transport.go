// Package transport moves encoded PDUs between entities. A link is both the
// engine's outbound sink and the source of its inbound buffers.
package transport

import "errors"

var (
	ErrClosed     = errors.New("transport: link closed")
	ErrNoPeer     = errors.New("transport: no peer bound")
	ErrNoRemote   = errors.New("transport: remote address not set")
	ErrOversize   = errors.New("transport: pdu exceeds datagram size")
	ErrNilHandler = errors.New("transport: nil handler")
)

// Handler receives every inbound buffer. It must not retain b.
type Handler func(b []byte)

// MaxDatagram bounds a single encoded PDU on a UDP link.
const MaxDatagram = 65507
