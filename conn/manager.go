package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scanline-labs/houbridge/rpc"
)

// State is the connection lifecycle state. Transitions happen only
// inside Manager; no other component mutates it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionError reports that establishing a session failed after all
// retry attempts. Recoverable is always true: a later EnsureConnected
// starts a fresh attempt; this layer never retries further on its own.
type ConnectionError struct {
	Endpoint    string
	Attempts    int
	Recoverable bool
	Err         error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("conn: connect to %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Session is the handle a connected manager hands out. *rpc.Session is
// the production implementation; tests substitute fakes.
type Session interface {
	Invoke(ctx context.Context, op string, args any, out any) error
	Version() string
	Endpoint() string
	Close() error
}

// Dialer establishes one session attempt. rpc.Dial is the production
// dialer; tests substitute fakes.
type Dialer func(ctx context.Context, host string, port int) (Session, error)

// Observer receives state transitions. Implementations must be fast and
// non-blocking; they are invoked with the manager lock held.
type Observer interface {
	StateChanged(from, to State)
}

// ManagerConfig configures a connection manager.
type ManagerConfig struct {
	Host     string
	Port     int
	Policy   RetryPolicy
	Dialer   Dialer
	Observer Observer
	Logger   *slog.Logger
}

// Manager owns the single session handle for one (host, port) endpoint
// and drives its lifecycle. At most one connect attempt is in flight at
// a time; concurrent EnsureConnected callers that observe Connecting
// wait on that attempt's outcome instead of racing to reconnect.
type Manager struct {
	host   string
	port   int
	policy RetryPolicy
	dialer Dialer
	obs    Observer
	log    *slog.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	session     Session
	lastErr     error
	generation  uint64
	reconnects  int64
	connectedAt time.Time
}

// NewManager creates a manager for the configured endpoint. The manager
// starts Disconnected; nothing touches the network until the first
// EnsureConnected.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Host == "" {
		return nil, errors.New("conn: host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("conn: invalid port %d", cfg.Port)
	}
	if cfg.Policy.ExponentialBase <= 1 {
		return nil, fmt.Errorf("conn: exponential base must be > 1, got %v", cfg.Policy.ExponentialBase)
	}
	if cfg.Policy.MaxRetries < 0 {
		return nil, fmt.Errorf("conn: max retries must be >= 0, got %d", cfg.Policy.MaxRetries)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = func(ctx context.Context, host string, port int) (Session, error) {
			return rpc.Dial(ctx, rpc.DialConfig{Host: host, Port: port})
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		host:   cfg.Host,
		port:   cfg.Port,
		policy: cfg.Policy,
		dialer: cfg.Dialer,
		obs:    cfg.Observer,
		log:    cfg.Logger.With("component", "conn", "host", cfg.Host, "port", cfg.Port),
		state:  StateDisconnected,
	}
	m.cond = sync.NewCond(&m.mu)
	return m, nil
}

// Endpoint returns the host:port this manager connects to.
func (m *Manager) Endpoint() string {
	return fmt.Sprintf("%s:%d", m.host, m.port)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureConnected returns the live session, connecting first if needed.
// Idempotent: when already Connected it returns the existing handle with
// no network activity. It blocks until Connected or until the retry
// budget is exhausted, in which case it returns a *ConnectionError with
// Recoverable=true. Callers must not hold the returned handle across an
// Invalidate boundary; re-fetch it after any failure.
func (m *Manager) EnsureConnected(ctx context.Context) (Session, error) {
	m.mu.Lock()
	for {
		switch m.state {
		case StateConnected:
			s := m.session
			m.mu.Unlock()
			return s, nil

		case StateConnecting:
			// Another caller owns the in-flight attempt; wait for its
			// outcome rather than starting a competing one.
			gen := m.generation
			for m.state == StateConnecting && m.generation == gen {
				m.cond.Wait()
			}
			if m.state == StateFailed {
				// The attempt we waited on failed; its error is ours
				// too. Calling EnsureConnected again starts fresh.
				err := m.lastErr
				m.mu.Unlock()
				return nil, err
			}
			continue

		case StateDisconnected, StateFailed:
			if err := ctx.Err(); err != nil {
				m.mu.Unlock()
				return nil, err
			}
			m.setStateLocked(StateConnecting)
			m.generation++
			m.mu.Unlock()
			return m.connect(ctx)
		}
	}
}

// connect runs the retry loop. Called without the lock, after the caller
// won the Disconnected -> Connecting transition.
func (m *Manager) connect(ctx context.Context) (Session, error) {
	attempts := m.policy.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		m.log.Info("connecting", "attempt", attempt+1, "max_attempts", attempts)

		session, err := m.dialer(ctx, m.host, m.port)
		if err == nil {
			m.mu.Lock()
			m.session = session
			m.lastErr = nil
			m.connectedAt = time.Now()
			m.setStateLocked(StateConnected)
			m.cond.Broadcast()
			m.mu.Unlock()
			m.log.Info("connected", "version", session.Version())
			return session, nil
		}

		lastErr = err
		m.log.Warn("connect attempt failed", "attempt", attempt+1, "error", err)

		if !m.policy.IsRetryable(err) || attempt == attempts-1 {
			break
		}

		delay := m.policy.NextDelay(attempt)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(delay):
		}
		if ctx.Err() != nil {
			break
		}
	}

	connErr := &ConnectionError{
		Endpoint:    m.Endpoint(),
		Attempts:    attempts,
		Recoverable: true,
		Err:         lastErr,
	}

	m.mu.Lock()
	m.lastErr = connErr
	m.setStateLocked(StateFailed)
	m.cond.Broadcast()
	m.mu.Unlock()

	return nil, connErr
}

// Invalidate drops the current session after a call revealed the channel
// is dead. Non-blocking: the broken handle is closed in the background
// and the next EnsureConnected reconnects from scratch.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	session := m.session
	m.session = nil
	m.reconnects++
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.log.Warn("session invalidated, next call reconnects")
	if session != nil {
		go func() { _ = session.Close() }()
	}
}

// invalidateSession invalidates only if s is still the current handle,
// so a probe of an already-replaced session cannot drop a fresh one.
func (m *Manager) invalidateSession(s Session) {
	m.mu.Lock()
	current := m.session
	m.mu.Unlock()
	if current == s {
		m.Invalidate()
	}
}

// Disconnect closes the session gracefully and resets to Disconnected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.lastErr = nil
	if m.state != StateDisconnected {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	m.log.Info("disconnected")
	return session.Close()
}

// Info is a point-in-time snapshot of the connection for diagnostics.
type Info struct {
	Endpoint    string    `json:"endpoint"`
	State       string    `json:"state"`
	Version     string    `json:"version,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	Reconnects  int64     `json:"reconnects"`
	LastError   string    `json:"last_error,omitempty"`
}

// Info reports the current connection state without touching the network.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := Info{
		Endpoint:   m.Endpoint(),
		State:      m.state.String(),
		Reconnects: m.reconnects,
	}
	if m.session != nil {
		info.Version = m.session.Version()
		info.ConnectedAt = m.connectedAt
	}
	if m.lastErr != nil {
		info.LastError = m.lastErr.Error()
	}
	return info
}

var _ Session = (*rpc.Session)(nil)

func (m *Manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if m.obs != nil {
		m.obs.StateChanged(from, to)
	}
}
