// Package execute wraps single remote calls with a timeout and
// classifies their outcome into a closed result type, so callers branch
// on error kinds instead of catching broad failure hierarchies.
package execute

import "time"

// ErrorKind classifies a failed operation.
type ErrorKind int

const (
	// KindNone means the operation succeeded.
	KindNone ErrorKind = iota
	// KindTimeout means the deadline elapsed before the operation
	// finished. The connection is not assumed dead.
	KindTimeout
	// KindConnectionLost means a transient network failure surfaced
	// mid-call; the session handle has been invalidated.
	KindConnectionLost
	// KindUnexpected is any other failure. Not retryable.
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindConnectionLost:
		return "connection_lost"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Result is the outcome of exactly one guarded operation. Produced once,
// never mutated. When ConnectionLost is set the manager has already been
// told to invalidate; retrying the operation after reconnection is the
// caller's decision, never this layer's.
type Result struct {
	OperationName  string
	Success        bool
	Value          any
	TimedOut       bool
	ConnectionLost bool
	Kind           ErrorKind
	Err            error
	Elapsed        time.Duration
}

// Ok reports success.
func (r Result) Ok() bool { return r.Success }
