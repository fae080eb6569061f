package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnecting is a Transport that dials websocket URLs and keeps them
// connected.
//
// Connection lifecycle:
//   - Open returns immediately; dialing happens on a background goroutine.
//   - A failed dial or a dropped connection is retried after a delay that
//     starts at InitialDelay and grows by 1.5x up to MaxDelay. The delay
//     resets once a connection is established.
//   - Each connection is pinged every PingInterval. A connection silent for
//     PingInterval+PongTimeout is treated as dead and redialed.
type Reconnecting struct {
	cfg    Config
	dialer *websocket.Dialer
	logger Logger
}

// NewReconnecting creates a transport with the given policy. Zero fields
// take defaults.
func NewReconnecting(cfg Config) *Reconnecting {
	cfg = cfg.withDefaults()
	return &Reconnecting{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the transport.
func (t *Reconnecting) SetLogger(logger Logger) {
	t.logger = logger
}

// Open starts connecting to url and returns a handle to stop it.
func (t *Reconnecting) Open(url string, h Handlers) Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &socket{
		t:      t,
		url:    url,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

type socket struct {
	t   *Reconnecting
	url string
	h   Handlers

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) run() {
	defer close(s.done)

	delay := s.t.cfg.InitialDelay
	for {
		if s.ctx.Err() != nil {
			return
		}

		conn, _, err := s.t.dialer.DialContext(s.ctx, s.url, nil)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.t.logger.Debug("status socket dial failed", "url", s.url, "retry_in", delay.String(), "error", err)
			s.onError(fmt.Errorf("dial %s: %w", s.url, err))
			if s.h.OnClose != nil {
				s.h.OnClose()
			}
			if !s.wait(delay) {
				return
			}
			delay = nextBackoff(delay, s.t.cfg.MaxDelay)
			continue
		}

		if !s.setConn(conn) {
			conn.Close() //nolint:errcheck // closed while dialing
			return
		}
		delay = s.t.cfg.InitialDelay

		s.t.logger.Debug("status socket connected", "url", s.url)
		if s.h.OnOpen != nil {
			s.h.OnOpen()
		}

		err = s.serve(conn)
		s.setConn(nil)
		conn.Close() //nolint:errcheck // already failed or closing

		if err != nil && s.ctx.Err() == nil {
			s.t.logger.Debug("status socket lost", "url", s.url, "error", err)
			s.onError(err)
		}
		if s.h.OnClose != nil {
			s.h.OnClose()
		}

		if !s.wait(delay) {
			return
		}
	}
}

// serve reads until the connection fails, pinging in the background.
func (s *socket) serve(conn *websocket.Conn) error {
	cfg := s.t.cfg
	deadline := func() time.Time { return time.Now().Add(cfg.PingInterval + cfg.PongTimeout) }

	_ = conn.SetReadDeadline(deadline()) //nolint:errcheck // next read reports failure
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	stopPing := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
	defer func() {
		close(stopPing)
		wg.Wait()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read %s: %w", s.url, err)
		}
		_ = conn.SetReadDeadline(deadline()) //nolint:errcheck // next read reports failure

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if s.h.OnMessage != nil {
			s.h.OnMessage(data)
		}
	}
}

// setConn records the live connection. It refuses a new connection once
// Close has been called.
func (s *socket) setConn(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn != nil && s.ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

// wait sleeps for d. It returns false if the socket was closed meanwhile.
func (s *socket) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *socket) onError(err error) {
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

// Close sends a close frame, ends the connection and waits for the reader
// goroutine to exit.
func (s *socket) Close() error {
	s.mu.Lock()
	s.cancel()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) {
			s.t.logger.Debug("status socket close frame not sent", "url", s.url, "error", err)
		}
		conn.Close() //nolint:errcheck // unblocks the reader
	}

	<-s.done
	return nil
}
