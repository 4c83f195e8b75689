package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr_magiclink/internal/event"
)

var (
	ErrNotConnected   = errors.New("session is not connected")
	ErrConnectionLost = errors.New("connection lost before acknowledgement")
)

// State is the lifecycle of a single relay session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "disconnected"
	}
}

// Session is one live connection to a relay.
type Session interface {
	URL() string
	State() State
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// SendMessage publishes ev inside an ["EVENT", ev] frame.
	SendMessage(ctx context.Context, ev event.SignedEvent) error
}

// Dialer builds a session for url. It must not perform I/O.
type Dialer func(url string) Session

// RejectedError is returned when a relay answers a publish with a negative OK.
type RejectedError struct {
	EventID string
	Reason  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay rejected event %s: %s", e.EventID, e.Reason)
}

type ack struct {
	accepted bool
	message  string
}

// WSSession speaks the relay protocol over gorilla/websocket. Writes are
// serialized; a single read pump routes OK frames to waiting senders.
type WSSession struct {
	url     string
	dialer  *websocket.Dialer
	awaitOK bool
	log     *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	done  chan struct{}

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan ack
}

type SessionOption func(*WSSession)

// WithAwaitOK makes SendMessage wait for the relay's OK frame.
func WithAwaitOK(await bool) SessionOption {
	return func(s *WSSession) { s.awaitOK = await }
}

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *WSSession) { s.log = l }
}

func NewWSSession(url string, opts ...SessionOption) *WSSession {
	s := &WSSession{
		url:     url,
		dialer:  websocket.DefaultDialer,
		log:     slog.Default(),
		pending: make(map[string]chan ack),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WSSession) URL() string {
	return s.url
}

func (s *WSSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *WSSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connected && s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Errored
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	if s.conn != nil {
		// Lost a race with a concurrent Connect.
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.state = Connected
	s.done = make(chan struct{})
	go s.readPump(conn, s.done)
	return nil
}

func (s *WSSession) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			// A deliberate Close has already detached conn.
			if s.conn == conn {
				s.conn = nil
				s.state = Errored
				s.log.Warn("relay connection dropped", "relay", s.url, "error", err)
			}
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.dispatch(message)
	}
}

func (s *WSSession) dispatch(message []byte) {
	var parts []json.RawMessage
	if err := json.Unmarshal(message, &parts); err != nil || len(parts) == 0 {
		return
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return
	}

	switch label {
	case "OK":
		if len(parts) < 3 {
			return
		}
		var id string
		var a ack
		if json.Unmarshal(parts[1], &id) != nil || json.Unmarshal(parts[2], &a.accepted) != nil {
			return
		}
		if len(parts) > 3 {
			_ = json.Unmarshal(parts[3], &a.message)
		}
		s.pendingMu.Lock()
		ch, ok := s.pending[id]
		s.pendingMu.Unlock()
		if ok {
			select {
			case ch <- a:
			default:
			}
		}
	case "NOTICE":
		var notice string
		if len(parts) > 1 {
			_ = json.Unmarshal(parts[1], &notice)
		}
		s.log.Info("relay notice", "relay", s.url, "notice", notice)
	}
}

func (s *WSSession) SendMessage(ctx context.Context, ev event.SignedEvent) error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := event.Envelope(ev)
	if err != nil {
		return err
	}

	var acked chan ack
	if s.awaitOK {
		acked = make(chan ack, 1)
		s.pendingMu.Lock()
		s.pending[ev.ID] = acked
		s.pendingMu.Unlock()
		defer func() {
			s.pendingMu.Lock()
			delete(s.pending, ev.ID)
			s.pendingMu.Unlock()
		}()
	}

	if err := s.write(ctx, conn, frame); err != nil {
		return err
	}
	if !s.awaitOK {
		return nil
	}

	select {
	case a := <-acked:
		if !a.accepted {
			return &RejectedError{EventID: ev.ID, Reason: a.message}
		}
		return nil
	case <-done:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WSSession) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *WSSession) Close(ctx context.Context) error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Second)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()

	err := conn.Close()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return err
}
