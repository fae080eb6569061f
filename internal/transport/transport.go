package transport

import "time"

// Handlers receives a socket's lifecycle callbacks. All callbacks for one
// socket run on a single goroutine, so messages arrive in the order the
// peer sent them. Nil handlers are skipped.
type Handlers struct {
	// OnOpen runs each time a connection is established.
	OnOpen func()

	// OnMessage runs once per text or binary message.
	OnMessage func(data []byte)

	// OnClose runs after every failed dial and after every established
	// connection ends, including one ended by Socket.Close. A dial aborted
	// by Socket.Close does not fire it.
	OnClose func()

	// OnError reports dial and read failures. Failures caused by
	// Socket.Close are not reported.
	OnError func(err error)
}

// Socket is an open, self-healing connection.
type Socket interface {
	// Close ends the connection and stops reconnecting. It blocks until
	// the final OnClose has run, so it must not be called from a handler.
	// Calling it again is a no-op.
	Close() error
}

// Transport opens status sockets.
type Transport interface {
	Open(url string, h Handlers) Socket
}

// Logger defines the logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const (
	defaultInitialDelay     = time.Second
	defaultMaxDelay         = 30 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second

	backoffFactor = 1.5
	writeWait     = time.Second
)

// Config controls the reconnect and keepalive policy.
type Config struct {
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// PingInterval is how often a ping is sent on an idle connection.
	PingInterval time.Duration

	// PongTimeout is how long past a ping the connection may stay silent
	// before it is considered dead.
	PongTimeout time.Duration

	// HandshakeTimeout bounds the websocket opening handshake.
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	return c
}

// nextBackoff grows d by backoffFactor, capped at limit.
func nextBackoff(d, limit time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffFactor)
	if next > limit {
		next = limit
	}
	return next
}
