package peer

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPoolAcquireReleaseReuse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { buf := make([]byte, 1); c.Read(buf) }()
		}
	}()

	p := NewPool(NewDialer(time.Second, 0), 4, time.Hour)
	defer p.Close()

	c1, err := p.Acquire(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(c1)
	if got := p.Stats(); got != 1 {
		t.Fatalf("expected 1 idle conn, got %d", got)
	}

	c2, err := p.Acquire(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if c2 != c1 {
		t.Fatalf("expected the idle connection to be reused")
	}
	p.Release(c2)
}

func TestPoolDiscardDoesNotReturnToPool(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := NewPool(NewDialer(time.Second, 0), 4, time.Hour)
	defer p.Close()

	c, err := p.Acquire(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Discard(c)
	if got := p.Stats(); got != 0 {
		t.Fatalf("expected 0 idle conns after discard, got %d", got)
	}
}
