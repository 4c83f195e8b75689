package relay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr_magiclink/internal/crypto"
	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/event"
	"nostr_magiclink/internal/hub"
)

type fakeSession struct {
	url string

	mu         sync.Mutex
	state      State
	connectErr error
	sendErr    error
	closeErr   error
	hang       bool
	onConnect  func()
	connects   int
	closes     int
	sent       []event.SignedEvent
}

func (f *fakeSession) URL() string { return f.url }

func (f *fakeSession) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Connect(context.Context) error {
	if f.onConnect != nil {
		f.onConnect()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		f.state = Errored
		return f.connectErr
	}
	f.state = Connected
	return nil
}

func (f *fakeSession) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.state = Disconnected
	return f.closeErr
}

func (f *fakeSession) SendMessage(_ context.Context, ev event.SignedEvent) error {
	f.mu.Lock()
	hang := f.hang
	f.mu.Unlock()
	if hang {
		select {}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, ev)
	return nil
}

// network hands out one fakeSession per url and remembers them.
type network struct {
	mu       sync.Mutex
	dials    int
	sessions map[string]*fakeSession
	setup    func(*fakeSession)
}

func newNetwork(setup func(*fakeSession)) *network {
	return &network{sessions: make(map[string]*fakeSession), setup: setup}
}

func (n *network) Dial(u string) Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials++
	s := &fakeSession{url: u}
	if n.setup != nil {
		n.setup(s)
	}
	n.sessions[u] = s
	return s
}

func (n *network) session(u string) *fakeSession {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[u]
}

func (n *network) dialCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

func keys(t *testing.T) (string, string) {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	pub, err := crypto.DerivePublicKey(priv)
	require.NoError(t, err)
	return priv, pub
}

func TestSendWithoutRelaysIsConfigurationError(t *testing.T) {
	net := newNetwork(nil)
	priv, _ := keys(t)
	_, recipient := keys(t)
	m := NewManager(Config{PrivateKey: priv, Dial: net.Dial})

	_, err := m.SendDirectMessage(context.Background(), recipient, "hi")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Configuration))
	assert.Zero(t, net.dialCount())
}

func TestSendWithoutKeyIsConfigurationError(t *testing.T) {
	net := newNetwork(nil)
	_, recipient := keys(t)

	for _, key := range []string{"", "   ", "not-hex"} {
		m := NewManager(Config{PrivateKey: key, Relays: []string{"wss://a"}, Dial: net.Dial})
		_, err := m.SendDirectMessage(context.Background(), recipient, "hi")
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.Configuration), key)
	}
	assert.Zero(t, net.dialCount())
}

func TestSendInvalidRecipient(t *testing.T) {
	net := newNetwork(nil)
	priv, _ := keys(t)
	m := NewManager(Config{PrivateKey: priv, Relays: []string{"wss://a"}, Dial: net.Dial})

	_, err := m.SendDirectMessage(context.Background(), "npub1nothex", "hi")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
	assert.Zero(t, net.dialCount())
}

func TestSendConnectsLazilyAndFansOut(t *testing.T) {
	net := newNetwork(nil)
	priv, pub := keys(t)
	_, recipient := keys(t)
	relays := []string{"wss://a", "wss://b", "wss://c"}
	m := NewManager(Config{PrivateKey: priv, Relays: relays, Dial: net.Dial})
	assert.False(t, m.Status().Connected)

	ev, err := m.SendDirectMessage(context.Background(), recipient, "login")
	require.NoError(t, err)
	assert.True(t, m.Status().Connected)
	assert.Equal(t, pub, ev.PubKey)
	assert.Equal(t, event.KindDirectMessage, ev.Kind)

	for _, u := range relays {
		s := net.session(u)
		require.NotNil(t, s, u)
		require.Len(t, s.sent, 1)
		assert.Equal(t, ev.ID, s.sent[0].ID)
	}

	// A second send reuses the sessions.
	_, err = m.SendDirectMessage(context.Background(), recipient, "again")
	require.NoError(t, err)
	assert.Equal(t, 3, net.dialCount())
}

func TestSendPolicy(t *testing.T) {
	priv, _ := keys(t)
	_, recipient := keys(t)
	broken := errors.New("socket closed")
	setup := func(s *fakeSession) {
		if s.url == "wss://bad" {
			s.sendErr = broken
		}
	}

	t.Run("all of", func(t *testing.T) {
		net := newNetwork(setup)
		m := NewManager(Config{PrivateKey: priv, Relays: []string{"wss://good", "wss://bad"}, Dial: net.Dial})
		_, err := m.SendDirectMessage(context.Background(), recipient, "x")
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.RelayConnection))
		assert.ErrorIs(t, err, broken)
		assert.Contains(t, err.Error(), "1 of 2")
	})

	t.Run("at least one", func(t *testing.T) {
		net := newNetwork(setup)
		m := NewManager(Config{PrivateKey: priv, Relays: []string{"wss://good", "wss://bad"}, Dial: net.Dial, Policy: AtLeastOne})
		ev, err := m.SendDirectMessage(context.Background(), recipient, "x")
		require.NoError(t, err)
		assert.NotEmpty(t, ev.ID)
	})

	t.Run("at least one with all failing", func(t *testing.T) {
		net := newNetwork(func(s *fakeSession) { s.sendErr = broken })
		m := NewManager(Config{PrivateKey: priv, Relays: []string{"wss://a", "wss://b"}, Dial: net.Dial, Policy: AtLeastOne})
		_, err := m.SendDirectMessage(context.Background(), recipient, "x")
		assert.True(t, errs.Is(err, errs.RelayConnection))
	})
}

func TestSendWithUnreachableRelay(t *testing.T) {
	priv, _ := keys(t)
	_, recipient := keys(t)
	refused := errors.New("connection refused")
	setup := func(s *fakeSession) {
		if s.url == "wss://down" {
			s.connectErr = refused
		}
	}
	relays := []string{"wss://up", "wss://down"}

	t.Run("all of", func(t *testing.T) {
		net := newNetwork(setup)
		m := NewManager(Config{PrivateKey: priv, Relays: relays, Dial: net.Dial})
		_, err := m.SendDirectMessage(context.Background(), recipient, "x")
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.RelayConnection))
		assert.ErrorIs(t, err, refused)
		assert.Contains(t, err.Error(), "1 of 2")
	})

	t.Run("at least one", func(t *testing.T) {
		net := newNetwork(setup)
		m := NewManager(Config{PrivateKey: priv, Relays: relays, Dial: net.Dial, Policy: AtLeastOne})
		ev, err := m.SendDirectMessage(context.Background(), recipient, "x")
		require.NoError(t, err)
		require.Len(t, net.session("wss://up").sent, 1)
		assert.Equal(t, ev.ID, net.session("wss://up").sent[0].ID)
	})
}

func TestSendTimeoutIsRelayError(t *testing.T) {
	net := newNetwork(func(s *fakeSession) { s.hang = true })
	priv, _ := keys(t)
	_, recipient := keys(t)
	m := NewManager(Config{PrivateKey: priv, Relays: []string{"wss://slow"}, Dial: net.Dial, Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := m.SendDirectMessage(context.Background(), recipient, "x")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RelayConnection))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectEmpty(t *testing.T) {
	m := NewManager(Config{})
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Configuration))
	assert.False(t, m.Status().Connected)
	assert.NotEmpty(t, m.Status().Error)
}

func TestConnectPartialFailure(t *testing.T) {
	refused := errors.New("connection refused")
	net := newNetwork(func(s *fakeSession) {
		if s.url == "wss://down" {
			s.connectErr = refused
		}
	})
	m := NewManager(Config{Relays: []string{"wss://up", "wss://down"}, Dial: net.Dial})

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RelayConnection))
	assert.ErrorIs(t, err, refused)
	assert.False(t, m.Status().Connected)

	statuses := m.Relays()
	require.Len(t, statuses, 2)
	assert.Equal(t, RelayStatus{URL: "wss://up", Status: "connected"}, statuses[0])
	assert.Equal(t, "wss://down", statuses[1].URL)
	assert.Equal(t, "error", statuses[1].Status)
	assert.Contains(t, statuses[1].Error, "refused")
}

func TestConnectClearsPreviousError(t *testing.T) {
	var fail sync.Once
	net := newNetwork(func(s *fakeSession) {
		fail.Do(func() { s.connectErr = errors.New("first dial fails") })
	})
	m := NewManager(Config{Relays: []string{"wss://a"}, Dial: net.Dial})

	require.Error(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Status{Connected: true}, m.Status())
}

func TestConnectClosesRelayRemovedMidDial(t *testing.T) {
	var m *Manager
	net := newNetwork(func(s *fakeSession) {
		if s.url == "wss://b" {
			s.onConnect = func() { assert.NoError(t, m.RemoveRelay(context.Background(), "wss://b")) }
		}
	})
	priv, _ := keys(t)
	m = NewManager(Config{PrivateKey: priv, Relays: []string{"wss://a", "wss://b"}, Dial: net.Dial})

	require.NoError(t, m.Connect(context.Background()))

	b := net.session("wss://b")
	require.NotNil(t, b)
	assert.Equal(t, 1, b.closes)
	assert.Equal(t, Disconnected, b.State())
	assert.Zero(t, net.session("wss://a").closes)

	relays := m.Relays()
	require.Len(t, relays, 1)
	assert.Equal(t, "wss://a", relays[0].URL)
}

func TestAddRelayTwiceIsNoop(t *testing.T) {
	net := newNetwork(nil)
	m := NewManager(Config{Dial: net.Dial})
	ctx := context.Background()

	require.NoError(t, m.AddRelay(ctx, "wss://relay.example"))
	require.NoError(t, m.AddRelay(ctx, "wss://relay.example"))

	assert.Len(t, m.sessions, 1)
	assert.Len(t, m.Relays(), 1)
	assert.Equal(t, 1, net.dialCount())
}

func TestAddRelayValidation(t *testing.T) {
	net := newNetwork(nil)
	m := NewManager(Config{Dial: net.Dial})

	for _, u := range []string{"", "https://relay.example", "relay.example", "wss://"} {
		err := m.AddRelay(context.Background(), u)
		require.Error(t, err, u)
		assert.True(t, errs.Is(err, errs.Validation), u)
	}
	assert.Zero(t, net.dialCount())
}

func TestAddRelayFailureNotTracked(t *testing.T) {
	net := newNetwork(func(s *fakeSession) { s.connectErr = errors.New("nope") })
	m := NewManager(Config{Dial: net.Dial})

	err := m.AddRelay(context.Background(), "wss://down")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RelayConnection))
	assert.Empty(t, m.Relays())
}

func TestRemoveRelay(t *testing.T) {
	net := newNetwork(nil)
	m := NewManager(Config{Relays: []string{"wss://a", "wss://b"}, Dial: net.Dial})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	require.NoError(t, m.RemoveRelay(ctx, "wss://missing"))
	require.NoError(t, m.RemoveRelay(ctx, "wss://a"))

	assert.Equal(t, 1, net.session("wss://a").closes)
	assert.Zero(t, net.session("wss://b").closes)
	statuses := m.Relays()
	require.Len(t, statuses, 1)
	assert.Equal(t, "wss://b", statuses[0].URL)
}

func TestRemoveRelayCloseFailure(t *testing.T) {
	net := newNetwork(func(s *fakeSession) {
		if s.url == "wss://a" {
			s.closeErr = errors.New("close failed")
		}
	})
	m := NewManager(Config{Relays: []string{"wss://a", "wss://b"}, Dial: net.Dial})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	err := m.RemoveRelay(ctx, "wss://a")
	assert.True(t, errs.Is(err, errs.RelayConnection))
	assert.Equal(t, Connected, net.session("wss://b").State())
}

func TestDisconnect(t *testing.T) {
	net := newNetwork(nil)
	m := NewManager(Config{Relays: []string{"wss://a", "wss://b"}, Dial: net.Dial})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	require.True(t, m.Status().Connected)

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, Status{}, m.Status())
	assert.Empty(t, m.sessions)
	assert.Equal(t, 1, net.session("wss://a").closes)
	assert.Equal(t, 1, net.session("wss://b").closes)

	for _, rs := range m.Relays() {
		assert.Equal(t, "disconnected", rs.Status)
	}
}

func TestNewManagerDeduplicatesRelays(t *testing.T) {
	m := NewManager(Config{Relays: []string{"wss://a", " wss://a ", "", "wss://b"}})
	assert.Len(t, m.Relays(), 2)
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"", "all", "ALL", "any"} {
		p, err := PolicyByName(name)
		require.NoError(t, err)
		assert.NotNil(t, p)
	}
	_, err := PolicyByName("most")
	assert.Error(t, err)

	ok := Outcome{URL: "a"}
	bad := Outcome{URL: "b", Err: errors.New("x")}
	assert.True(t, AllOf([]Outcome{ok, ok}))
	assert.False(t, AllOf([]Outcome{ok, bad}))
	assert.False(t, AllOf(nil))
	assert.True(t, AtLeastOne([]Outcome{bad, ok}))
	assert.False(t, AtLeastOne([]Outcome{bad}))
	assert.False(t, AtLeastOne(nil))
}

type rejectAll struct{}

func (rejectAll) Verify(event.SignedEvent) bool { return false }

func startRelay(t *testing.T, verifier hub.Verifier) (*hub.Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, verifier)
	go h.Run()
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeliveryThroughWebsocketRelays(t *testing.T) {
	builder := event.NewBuilder(event.Config{})
	first, firstURL := startRelay(t, builder)
	second, secondURL := startRelay(t, builder)

	senderPriv, senderPub := keys(t)
	recipientPriv, recipientPub := keys(t)
	m := NewManager(Config{
		PrivateKey: senderPriv,
		Relays:     []string{firstURL, secondURL},
		AwaitOK:    true,
		Timeout:    2 * time.Second,
	})
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Disconnect(ctx) })

	ev, err := m.SendDirectMessage(ctx, recipientPub, "https://example.com/verify?token=abc")
	require.NoError(t, err)

	for _, h := range []*hub.Hub{first, second} {
		stored := h.Events(event.Filter{P: []string{recipientPub}})
		require.Len(t, stored, 1)
		assert.Equal(t, ev.ID, stored[0].ID)
	}

	plaintext, err := builder.DecryptFrom(ev.Content, recipientPriv, senderPub)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/verify?token=abc", plaintext)

	for _, rs := range m.Relays() {
		assert.Equal(t, "connected", rs.Status)
	}
}

func TestRelayRejectionFailsSend(t *testing.T) {
	_, url := startRelay(t, rejectAll{})
	priv, _ := keys(t)
	_, recipient := keys(t)
	m := NewManager(Config{PrivateKey: priv, Relays: []string{url}, AwaitOK: true, Timeout: 2 * time.Second})
	ctx := context.Background()
	t.Cleanup(func() { _ = m.Disconnect(ctx) })

	_, err := m.SendDirectMessage(ctx, recipient, "x")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RelayConnection))
	var rejected *RejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestConnectUnreachableRelay(t *testing.T) {
	m := NewManager(Config{Relays: []string{"ws://127.0.0.1:1"}, Timeout: time.Second})
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RelayConnection))
}
