package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

// UDPLink carries one PDU per datagram between the local entity and a
// single remote entity. Without a configured remote, replies go to the
// address of the last datagram received.
type UDPLink struct {
	conn *net.UDPConn

	mu     sync.RWMutex
	remote *net.UDPAddr
	fixed  bool
}

// ListenUDP binds listen and resolves remote. remote may be empty.
func ListenUDP(listen, remote string) (*UDPLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve listen %q: %w", listen, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", listen, err)
	}
	l := &UDPLink{conn: conn}
	if remote != "" {
		raddr, err := net.ResolveUDPAddr("udp", remote)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: resolve remote %q: %w", remote, err)
		}
		l.remote = raddr
		l.fixed = true
	}
	log.Info().Msgf("transport.ListenUDP ok listen=%s remote=%q", conn.LocalAddr(), remote)
	return l, nil
}

func (l *UDPLink) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Remote is the current destination, or nil before one is known.
func (l *UDPLink) Remote() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remote
}

func (l *UDPLink) Emit(b []byte) error {
	if len(b) > MaxDatagram {
		return fmt.Errorf("%w: %d bytes", ErrOversize, len(b))
	}
	raddr := l.Remote()
	if raddr == nil {
		return ErrNoRemote
	}
	_, err := l.conn.WriteToUDP(b, raddr)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Serve reads datagrams into h until ctx ends or the link is closed.
func (l *UDPLink) Serve(ctx context.Context, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	stop := context.AfterFunc(ctx, func() { _ = l.conn.Close() })
	defer stop()

	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		l.learn(from)
		h(buf[:n])
	}
}

func (l *UDPLink) learn(from *net.UDPAddr) {
	l.mu.RLock()
	known := l.fixed || (l.remote != nil && l.remote.String() == from.String())
	l.mu.RUnlock()
	if known {
		return
	}
	l.mu.Lock()
	l.remote = from
	l.mu.Unlock()
	log.Debug().Str("remote", from.String()).Msg("transport: learned remote address")
}

func (l *UDPLink) Close() error {
	err := l.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
