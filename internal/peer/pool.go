// Package peer implements the pooled outbound dialer used by
// internal/healing's Fix step to contact the other 24 RAIDA nodes for
// Validate-Ticket calls (spec.md §4.J).
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// RcvTimeout is RAIDA_SERVER_RCV_TIMEOUT: the per-peer blocking-call
// timeout used throughout healing (spec.md §4.J).
const RcvTimeout = 32 * time.Second

// Dialer manages outbound peer connections. Adapted from a generic
// net.Conn dialer into one fixed to TCP, since this server's peer protocol
// is the same binary framing used for client requests (internal/protocol).
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer constructs a Dialer with the given connect timeout and TCP
// keepalive interval.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial connects to addr over TCP.
func (d *Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}
	return conn, nil
}

type pooledConn struct {
	net.Conn
	addr     string
	lastUsed time.Time
}

// Pool manages reusable connections to peer RAIDA nodes, keyed by address.
type Pool struct {
	dialer *Dialer

	mu      sync.Mutex
	conns   map[string][]*pooledConn
	maxIdle int
	idleTTL time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// NewPool constructs a Pool using d, keeping up to maxIdle idle connections
// per address for up to idleTTL before they are reaped.
func NewPool(d *Dialer, maxIdle int, idleTTL time.Duration) *Pool {
	p := &Pool{
		dialer:  d,
		conns:   make(map[string][]*pooledConn),
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		closing: make(chan struct{}),
	}
	go p.reaper()
	return p
}

// Acquire returns a pooled connection to addr, dialing a fresh one if none
// is idle.
func (p *Pool) Acquire(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.Lock()
	list := p.conns[addr]
	n := len(list)
	if n > 0 {
		c := list[n-1]
		p.conns[addr] = list[:n-1]
		p.mu.Unlock()
		c.lastUsed = time.Now()
		return c, nil
	}
	p.mu.Unlock()

	if p.dialer == nil {
		return nil, errors.New("peer: pool has no dialer configured")
	}
	conn, err := p.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &pooledConn{Conn: conn, addr: addr, lastUsed: time.Now()}, nil
}

// Release returns conn to the pool for reuse, or closes it outright if the
// pool for that address is already full.
func (p *Pool) Release(conn net.Conn) {
	pc, ok := conn.(*pooledConn)
	if !ok {
		_ = conn.Close()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxIdle > 0 && len(p.conns[pc.addr]) < p.maxIdle {
		pc.lastUsed = time.Now()
		p.conns[pc.addr] = append(p.conns[pc.addr], pc)
		return
	}
	_ = pc.Close()
}

// Discard closes conn unconditionally, for use after a read/write error
// that leaves the connection's framing state unknown.
func (p *Pool) Discard(conn net.Conn) {
	_ = conn.Close()
}

// Close closes every pooled connection and stops the reaper.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, list := range p.conns {
			for _, c := range list {
				_ = c.Close()
			}
		}
		p.conns = make(map[string][]*pooledConn)
	})
}

// Stats returns the total number of idle pooled connections.
func (p *Pool) Stats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, list := range p.conns {
		count += len(list)
	}
	return count
}

func (p *Pool) reaper() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for addr, list := range p.conns {
				i := 0
				for _, c := range list {
					if c.lastUsed.Before(cutoff) {
						_ = c.Close()
						continue
					}
					list[i] = c
					i++
				}
				p.conns[addr] = list[:i]
			}
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}
