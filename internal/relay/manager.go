// Package relay keeps sessions to a set of relays and delivers signed
// direct messages to all of them concurrently.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/event"
	"nostr_magiclink/internal/identity"
)

const DefaultTimeout = 10 * time.Second

type Config struct {
	// PrivateKey signs outgoing events. Checked on send, not on construction.
	PrivateKey string
	Relays     []string

	// Timeout bounds every connect, send and close against one relay.
	// Defaults to DefaultTimeout.
	Timeout time.Duration

	// Policy defaults to AllOf.
	Policy Policy

	// AwaitOK makes the default dialer wait for each relay's OK frame.
	AwaitOK bool

	// Dial defaults to gorilla/websocket sessions.
	Dial Dialer

	Builder *event.Builder
	Logger  *slog.Logger
}

// Status is a snapshot of the manager as a whole.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// RelayStatus describes one tracked relay.
type RelayStatus struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Manager struct {
	cfg     Config
	log     *slog.Logger
	builder *event.Builder

	// lifecycle serializes Connect, Disconnect and the lazy connect on send.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	urls      []string
	sessions  map[string]Session
	relayErrs map[string]error
	connected bool
	lastErr   error
}

func NewManager(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Policy == nil {
		cfg.Policy = AllOf
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Dial == nil {
		awaitOK := cfg.AwaitOK
		cfg.Dial = func(u string) Session {
			return NewWSSession(u, WithAwaitOK(awaitOK), WithSessionLogger(log))
		}
	}
	builder := cfg.Builder
	if builder == nil {
		builder = event.NewBuilder(event.Config{})
	}

	var urls []string
	for _, u := range cfg.Relays {
		u = strings.TrimSpace(u)
		if u != "" && !slices.Contains(urls, u) {
			urls = append(urls, u)
		}
	}

	return &Manager{
		cfg:       cfg,
		log:       log,
		builder:   builder,
		urls:      urls,
		sessions:  make(map[string]Session),
		relayErrs: make(map[string]error),
	}
}

// ValidateURL accepts absolute ws:// and wss:// URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errs.New(errs.Validation, fmt.Sprintf("relay url %q must be an absolute ws:// or wss:// url", raw))
	}
	return nil
}

// Connect opens a session to every tracked relay concurrently. Any failed
// relay fails the call; relays that did connect stay registered.
func (m *Manager) Connect(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	m.mu.RLock()
	urls := slices.Clone(m.urls)
	pending := make(map[string]Session, len(urls))
	dialed := make(map[string]bool, len(urls))
	for _, u := range urls {
		if s, ok := m.sessions[u]; ok {
			pending[u] = s
		} else {
			pending[u] = m.cfg.Dial(u)
			dialed[u] = true
		}
	}
	m.mu.RUnlock()

	if len(urls) == 0 {
		err := errs.New(errs.Configuration, "no relay endpoints configured")
		m.setStatus(false, err)
		return err
	}

	outcomes := m.fanOut(ctx, urls, func(ctx context.Context, u string) error {
		return pending[u].Connect(ctx)
	})

	var orphans []string
	m.mu.Lock()
	for _, o := range outcomes {
		if o.Err != nil {
			m.relayErrs[o.URL] = o.Err
			m.log.Warn("relay connect failed", "relay", o.URL, "error", o.Err)
			continue
		}
		delete(m.relayErrs, o.URL)
		if slices.Contains(m.urls, o.URL) {
			m.sessions[o.URL] = pending[o.URL]
		} else if dialed[o.URL] {
			// Removed while the dial was in flight.
			orphans = append(orphans, o.URL)
		}
	}
	m.mu.Unlock()

	if len(orphans) > 0 {
		m.fanOut(context.WithoutCancel(ctx), orphans, func(ctx context.Context, u string) error {
			return pending[u].Close(ctx)
		})
	}

	if !AllOf(outcomes) {
		err := errs.Wrap(errs.RelayConnection, "failed to connect to relays", joinFailures(outcomes))
		m.setStatus(false, err)
		return err
	}

	m.setStatus(true, nil)
	m.log.Info("connected to relays", "count", len(urls))
	return nil
}

// Disconnect closes every session concurrently and clears the registry.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]Session)
	m.relayErrs = make(map[string]error)
	m.connected = false
	m.lastErr = nil
	m.mu.Unlock()

	urls := make([]string, 0, len(sessions))
	for u := range sessions {
		urls = append(urls, u)
	}
	outcomes := m.fanOut(ctx, urls, func(ctx context.Context, u string) error {
		return sessions[u].Close(ctx)
	})
	if err := joinFailures(outcomes); err != nil {
		return errs.Wrap(errs.RelayConnection, "failed to close relay sessions", err)
	}
	return nil
}

// Status never blocks on I/O.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{Connected: m.connected}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}

// Relays reports every tracked relay in the order it was added.
func (m *Manager) Relays() []RelayStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RelayStatus, 0, len(m.urls))
	for _, u := range m.urls {
		rs := RelayStatus{URL: u, Status: Disconnected.String()}
		if s, ok := m.sessions[u]; ok {
			rs.Status = s.State().String()
		}
		if err, ok := m.relayErrs[u]; ok {
			rs.Status = Errored.String()
			rs.Error = err.Error()
		}
		out = append(out, rs)
	}
	return out
}

// AddRelay connects to u and starts tracking it. A relay that already has
// a session is left alone.
func (m *Manager) AddRelay(ctx context.Context, u string) error {
	u = strings.TrimSpace(u)
	if err := ValidateURL(u); err != nil {
		return err
	}

	m.mu.RLock()
	_, exists := m.sessions[u]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	s := m.cfg.Dial(u)
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	if err := s.Connect(opCtx); err != nil {
		m.log.Warn("relay connect failed", "relay", u, "error", err)
		return errs.Wrap(errs.RelayConnection, "failed to connect to relay "+u, err)
	}

	m.mu.Lock()
	if _, raced := m.sessions[u]; raced {
		m.mu.Unlock()
		_ = s.Close(opCtx)
		return nil
	}
	m.sessions[u] = s
	delete(m.relayErrs, u)
	if !slices.Contains(m.urls, u) {
		m.urls = append(m.urls, u)
	}
	m.mu.Unlock()

	m.log.Info("relay added", "relay", u)
	return nil
}

// RemoveRelay stops tracking u and closes its session if there is one.
func (m *Manager) RemoveRelay(ctx context.Context, u string) error {
	u = strings.TrimSpace(u)

	m.mu.Lock()
	s, ok := m.sessions[u]
	delete(m.sessions, u)
	delete(m.relayErrs, u)
	m.urls = slices.DeleteFunc(m.urls, func(v string) bool { return v == u })
	if len(m.sessions) == 0 {
		m.connected = false
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	if err := s.Close(opCtx); err != nil {
		return errs.Wrap(errs.RelayConnection, "failed to close relay "+u, err)
	}
	m.log.Info("relay removed", "relay", u)
	return nil
}

// SendDirectMessage encrypts content for recipientPub, signs it as a kind 4
// event and publishes it to every connected relay. Whether the send as a
// whole succeeded is decided by the configured Policy.
func (m *Manager) SendDirectMessage(ctx context.Context, recipientPub, content string) (event.SignedEvent, error) {
	priv, err := m.signingKey()
	if err != nil {
		return event.SignedEvent{}, err
	}

	m.mu.RLock()
	endpoints := len(m.urls)
	m.mu.RUnlock()
	if endpoints == 0 {
		return event.SignedEvent{}, errs.New(errs.Configuration, "no relay endpoints configured")
	}

	recipient, err := identity.Normalize(recipientPub)
	if err != nil {
		return event.SignedEvent{}, err
	}

	if err := m.ensureConnected(ctx); err != nil {
		return event.SignedEvent{}, err
	}

	ev, err := m.builder.DirectMessage(content, priv, recipient)
	if err != nil {
		return event.SignedEvent{}, err
	}

	m.mu.RLock()
	sessions := make(map[string]Session, len(m.sessions))
	urls := make([]string, 0, len(m.sessions))
	var unreachable []Outcome
	for _, u := range m.urls {
		if s, ok := m.sessions[u]; ok {
			sessions[u] = s
			urls = append(urls, u)
			continue
		}
		err := m.relayErrs[u]
		if err == nil {
			err = ErrNotConnected
		}
		unreachable = append(unreachable, Outcome{URL: u, Err: err})
	}
	m.mu.RUnlock()

	outcomes := m.fanOut(ctx, urls, func(ctx context.Context, u string) error {
		return sessions[u].SendMessage(ctx, ev)
	})
	outcomes = append(outcomes, unreachable...)
	for _, o := range outcomes {
		if o.Err != nil {
			m.log.Warn("relay send failed", "relay", o.URL, "event_id", ev.ID, "error", o.Err)
		}
	}

	if !m.cfg.Policy(outcomes) {
		return event.SignedEvent{}, errs.Wrap(errs.RelayConnection,
			fmt.Sprintf("delivery failed on %d of %d relays", len(failures(outcomes)), len(outcomes)),
			joinFailures(outcomes))
	}

	m.log.Info("direct message sent",
		"recipient", identity.Redact(recipient),
		"event_id", ev.ID,
		"relays", len(outcomes),
		"failed", len(failures(outcomes)))
	return ev, nil
}

func (m *Manager) signingKey() (string, error) {
	priv, err := identity.CleanPrivateKey(m.cfg.PrivateKey)
	if errs.Is(err, errs.Configuration) {
		return "", err
	}
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "signing key is not a 64-character hex key", err)
	}
	return priv, nil
}

// ensureConnected is the single lazy-connect entry point used by sends.
// Relays that fail to connect are not an error here: they show up as
// failed outcomes and the send policy decides.
func (m *Manager) ensureConnected(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.healthy() {
		return nil
	}
	if err := m.connectLocked(ctx); err != nil && !errs.Is(err, errs.RelayConnection) {
		return err
	}
	return nil
}

func (m *Manager) healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected || len(m.sessions) == 0 {
		return false
	}
	for _, s := range m.sessions {
		if s.State() != Connected {
			return false
		}
	}
	return true
}

func (m *Manager) setStatus(connected bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
	m.lastErr = err
}

// fanOut runs op against every url concurrently and collects the outcomes
// in url order. An op still running at the timeout counts as failed.
func (m *Manager) fanOut(ctx context.Context, urls []string, op func(ctx context.Context, u string) error) []Outcome {
	outcomes := make([]Outcome, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()

			result := make(chan error, 1)
			go func() { result <- op(opCtx, u) }()

			var err error
			select {
			case err = <-result:
			case <-opCtx.Done():
				err = fmt.Errorf("timed out after %s: %w", m.cfg.Timeout, opCtx.Err())
			}
			outcomes[i] = Outcome{URL: u, Err: err}
		}()
	}
	wg.Wait()
	return outcomes
}
