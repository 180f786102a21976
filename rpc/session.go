package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Invoker is the typed capability surface of a live bridge session.
// Callers name the remote operation explicitly; there is no dynamic
// attribute proxying over the wire.
type Invoker interface {
	Invoke(ctx context.Context, op string, args any, out any) error
}

// Session is a live connection to the Houdini bridge listener.
//
// The wire protocol is stateful request/response, so actual wire traffic
// is serialized through a single owner: one Invoke holds the socket at a
// time even when logical callers are concurrent. Interleaved partial
// reads are therefore impossible.
type Session struct {
	mu       sync.Mutex
	conn     net.Conn
	enc      *json.Encoder
	dec      *json.Decoder
	nextID   int64
	closed   bool
	endpoint string
	version  string
}

// DialConfig configures Dial.
type DialConfig struct {
	Host string
	Port int
	// DialTimeout bounds the TCP connect plus the validation handshake.
	DialTimeout time.Duration
}

const defaultDialTimeout = 10 * time.Second

// Dial connects to the bridge listener and validates the peer by asking
// for its application version, mirroring the connect-then-verify step
// the scripting surface requires before a session is considered live.
func Dial(ctx context.Context, cfg DialConfig) (*Session, error) {
	if cfg.Host == "" {
		return nil, errors.New("rpc: host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("rpc: invalid port %d", cfg.Port)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	endpoint := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", endpoint, err)
	}

	s := &Session{
		conn:     conn,
		enc:      json.NewEncoder(conn),
		dec:      json.NewDecoder(bufio.NewReader(conn)),
		nextID:   1,
		endpoint: endpoint,
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var version string
	if err := s.Invoke(handshakeCtx, "application.version", nil, &version); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rpc: validate %s: %w", endpoint, err)
	}
	s.version = version

	return s, nil
}

// Endpoint returns the host:port this session is connected to.
func (s *Session) Endpoint() string { return s.endpoint }

// Version returns the remote application version captured at dial time.
func (s *Session) Version() string { return s.version }

// Invoke issues one named remote operation and decodes its result into
// out (out may be nil to discard). A WireError means the remote rejected
// the operation; any other error means the channel itself failed.
func (s *Session) Invoke(ctx context.Context, op string, args any, out any) error {
	if op == "" {
		return errors.New("rpc: operation name is required")
	}

	params, err := marshalArgs(args)
	if err != nil {
		return &InvokeError{Op: op, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &InvokeError{Op: op, Err: ErrSessionClosed}
	}

	id := s.nextID
	s.nextID++

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
	} else {
		_ = s.conn.SetDeadline(time.Time{})
	}

	if err := s.enc.Encode(Request{ID: id, Op: op, Params: params}); err != nil {
		return &InvokeError{Op: op, Err: fmt.Errorf("write request: %w", err)}
	}

	for {
		var resp Response
		if err := s.dec.Decode(&resp); err != nil {
			return &InvokeError{Op: op, Err: fmt.Errorf("read response: %w", err)}
		}
		// Responses for earlier, abandoned requests can still arrive on
		// a session that timed out previously. Skip until ours shows up.
		if resp.ID != id {
			continue
		}
		if !resp.OK {
			if resp.Error == nil {
				return &InvokeError{Op: op, Err: errors.New("remote failure without error detail")}
			}
			return &InvokeError{Op: op, Err: resp.Error}
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return &InvokeError{Op: op, Err: fmt.Errorf("decode result: %w", err)}
		}
		return nil
	}
}

// Close shuts the session down. Subsequent Invokes fail with
// ErrSessionClosed. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

var _ Invoker = (*Session)(nil)
