package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raida-consortium/raida-server/internal/commands"
	"github.com/raida-consortium/raida-server/internal/protocol"
	"github.com/raida-consortium/raida-server/internal/statuscodes"
)

// MaxConnections bounds concurrent connections this node will service
// (spec.md §5: "the server must not attempt to serve more than 65,535
// simultaneous connections").
const MaxConnections = 65535

// connDeadline bounds how long a single connection may sit idle between
// requests before it is closed, so a slow or dead peer cannot pin a worker
// slot forever.
const connDeadline = 60 * time.Second

// Listener owns the raw TCP socket, the semaphore bounding concurrent
// connections, and the dispatcher each accepted connection is handed to —
// the request-loop half of spec.md §5's "accept, parse, dispatch, respond"
// cycle, shaped after this codebase's pooled-connection accept-loop idiom.
type Listener struct {
	Dispatcher *Dispatcher
	Metrics    *Metrics
	Log        *logrus.Logger

	// KeyLookup resolves the 16-byte key referenced by an encrypted
	// request's header fields. nil disables encrypted bodies entirely.
	KeyLookup protocol.KeyLookup

	ln       net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewListener builds a Listener bound to addr but does not yet accept
// connections; call Serve to start the accept loop.
func NewListener(addr string, d *Dispatcher, m *Metrics, log *logrus.Logger, keyLookup protocol.KeyLookup) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		Dispatcher: d,
		Metrics:    m,
		Log:        log,
		KeyLookup:  keyLookup,
		ln:         ln,
		sem:        make(chan struct{}, MaxConnections),
		shutdown:   make(chan struct{}),
	}, nil
}

// Serve runs the accept loop until ctx is canceled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.shutdown:
				l.wg.Wait()
				return nil
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				return err
			}
		}

		select {
		case l.sem <- struct{}{}:
		default:
			// At capacity: refuse rather than queue unboundedly (spec.md
			// §5's connection ceiling).
			_ = conn.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() { <-l.sem }()
			l.serveConn(ctx, conn)
		}()
	}
}

// Close stops the accept loop and waits for in-flight connections to
// finish, the TCP half of spec.md §5's global shutdown flag.
func (l *Listener) Close() {
	close(l.shutdown)
	_ = l.ln.Close()
	l.wg.Wait()
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		select {
		case <-l.shutdown:
			return
		default:
		}

		if err := conn.SetDeadline(time.Now().Add(connDeadline)); err != nil {
			return
		}

		headerBuf := make([]byte, protocol.HeaderSize)
		if _, err := io.ReadFull(conn, headerBuf); err != nil {
			if !errors.Is(err, io.EOF) {
				l.Log.WithError(err).Debug("server: connection read failed")
			}
			return
		}

		raidaID := l.Dispatcher.Store.RaidaID
		h, err := protocol.ParseRequestHeader(headerBuf, raidaID)
		if err != nil {
			l.Log.WithError(err).Debug("server: malformed request header")
			return
		}

		body := make([]byte, h.BodySize)
		if h.BodySize > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				l.Log.WithError(err).Debug("server: body read failed")
				return
			}
		}

		if l.Metrics != nil {
			l.Metrics.requestsTotal.Inc()
		}

		status, respBody, challenge := l.handleRequest(ctx, h, body)
		if l.Metrics != nil && status != statuscodes.StatusSuccess && status != statuscodes.StatusAllPass {
			l.Metrics.requestsFailed.Inc()
		}

		var encrypt func(nonce, plaintext []byte) ([]byte, error)
		if h.EncryptionType != protocol.EncryptionNone && l.KeyLookup != nil {
			key, err := l.KeyLookup(h)
			if err == nil {
				encrypt = func(nonce, plaintext []byte) ([]byte, error) {
					return protocol.EncryptBody(key, nonce, plaintext)
				}
			}
		}

		resp, err := protocol.BuildResponse(status, h.CommandGroup, h.Echo, challenge, respBody, encrypt)
		if err != nil {
			l.Log.WithError(err).Debug("server: response encoding failed")
			return
		}
		if _, err := conn.Write(resp); err != nil {
			l.Log.WithError(err).Debug("server: response write failed")
			return
		}
	}
}

// handleRequest parses the frame (decrypting if needed) and dispatches it,
// reporting any frame parse failure (including a failed key lookup) as
// ErrorInvalidEOF rather than dropping the connection outright. It also returns the frame's challenge
// (the first 16 bytes of the decrypted body, spec.md §4.D) so the caller
// can hash it into the response's challenge-hash field; a parse failure
// yields a zeroed challenge since no decrypted body exists to hash.
func (l *Listener) handleRequest(ctx context.Context, h *protocol.RequestHeader, rawBody []byte) (statuscodes.Code, []byte, []byte) {
	frame, err := protocol.ParseFrame(h, rawBody, l.KeyLookup)
	if err != nil {
		l.Log.WithError(err).Debug("server: frame parse failed")
		return statuscodes.ErrorInvalidEOF, nil, make([]byte, protocol.ChallengeSize)
	}
	status, respBody := l.Dispatcher.Dispatch(ctx, frame)
	return status, respBody, frame.Challenge
}

// CoinKeyLookup builds a KeyLookup resolving the coin/locker AN referenced
// by a request's encryption fields against store: encryption type 1 keys
// on the coin at (encryption_denom, encryption_serial); type 2 ("locker
// AES") reuses the same fields against the coin table too, since spec.md
// §4.D names the two encryption types but never gives the locker variant
// a distinct addressing field on the wire. See DESIGN.md's Open Questions.
func CoinKeyLookup(store *commands.Store) protocol.KeyLookup {
	return func(h *protocol.RequestHeader) ([16]byte, error) {
		return store.CurrentAN(h.EncryptionDenom, h.EncryptionSerial)
	}
}
