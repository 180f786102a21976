package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// startBridgeStub runs a minimal JSON-line bridge listener that answers
// requests via the handler. It always answers application.version so Dial
// can complete its handshake.
func startBridgeStub(t *testing.T, handler func(req Request) Response) (host string, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				dec := json.NewDecoder(bufio.NewReader(conn))
				enc := json.NewEncoder(conn)
				for {
					var req Request
					if err := dec.Decode(&req); err != nil {
						return
					}
					var resp Response
					if req.Op == "application.version" {
						version, _ := json.Marshal("21.0.440")
						resp = Response{ID: req.ID, OK: true, Result: version}
					} else {
						resp = handler(req)
						resp.ID = req.ID
					}
					if err := enc.Encode(resp); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestDial_Handshake(t *testing.T) {
	host, port := startBridgeStub(t, func(req Request) Response {
		return Response{OK: true}
	})

	s, err := Dial(context.Background(), DialConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer s.Close()

	if s.Version() != "21.0.440" {
		t.Errorf("Version() = %q, want %q", s.Version(), "21.0.440")
	}
	if !strings.HasPrefix(s.Endpoint(), "127.0.0.1:") {
		t.Errorf("Endpoint() = %q, want 127.0.0.1:<port>", s.Endpoint())
	}
}

func TestDial_Refused(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	_, err = Dial(context.Background(), DialConfig{Host: "127.0.0.1", Port: port, DialTimeout: time.Second})
	if err == nil {
		t.Fatal("Dial() should fail against a closed port")
	}
	if !IsTransient(err) {
		t.Errorf("IsTransient(%v) = false, want true", err)
	}
}

func TestSession_Invoke(t *testing.T) {
	host, port := startBridgeStub(t, func(req Request) Response {
		switch req.Op {
		case "scene.path":
			result, _ := json.Marshal("/scenes/untitled.hip")
			return Response{OK: true, Result: result}
		case "node.create":
			return Response{OK: false, Error: &WireError{Code: "invalid_type", Message: "unknown node type"}}
		default:
			return Response{OK: false, Error: &WireError{Code: "unknown_op", Message: req.Op}}
		}
	})

	s, err := Dial(context.Background(), DialConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer s.Close()

	var path string
	if err := s.Invoke(context.Background(), "scene.path", nil, &path); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if path != "/scenes/untitled.hip" {
		t.Errorf("Invoke() result = %q, want %q", path, "/scenes/untitled.hip")
	}
}

func TestSession_Invoke_WireError(t *testing.T) {
	host, port := startBridgeStub(t, func(req Request) Response {
		return Response{OK: false, Error: &WireError{Code: "invalid_type", Message: "unknown node type"}}
	})

	s, err := Dial(context.Background(), DialConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer s.Close()

	err = s.Invoke(context.Background(), "node.create", map[string]any{"type": "bogus"}, nil)
	if err == nil {
		t.Fatal("Invoke() should surface the remote error")
	}

	var wireErr *WireError
	if !errors.As(err, &wireErr) {
		t.Fatalf("Invoke() error = %T, want *WireError in chain", err)
	}
	if wireErr.Code != "invalid_type" {
		t.Errorf("WireError.Code = %q, want %q", wireErr.Code, "invalid_type")
	}
	if IsTransient(err) {
		t.Error("remote operation errors must not be classified transient")
	}
}

func TestSession_Invoke_AfterClose(t *testing.T) {
	host, port := startBridgeStub(t, func(req Request) Response {
		return Response{OK: true}
	})

	s, err := Dial(context.Background(), DialConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}

	err = s.Invoke(context.Background(), "scene.path", nil, nil)
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Invoke() after close error = %v, want ErrSessionClosed", err)
	}
}
