package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrSessionClosed is returned by Invoke after the session was closed.
var ErrSessionClosed = errors.New("rpc: session is closed")

// IsTransient reports whether err signals that the channel is unusable
// but the endpoint may be reachable again after a reconnect: resets,
// refused or aborted connections, broken pipes, end-of-stream, transport
// timeouts, and generic OS-level I/O failures. Remote operation errors
// (WireError) and local context cancellation are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var wireErr *WireError
	if errors.As(err, &wireErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, ErrSessionClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Remaining OS-level I/O failures (the wide net the source casts
	// with its trailing OSError clause).
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return true
	}

	return false
}
