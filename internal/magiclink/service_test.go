package magiclink

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr_magiclink/internal/crypto"
	"nostr_magiclink/internal/database"
	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/event"
	"nostr_magiclink/internal/token"
)

type call struct {
	recipient string
	content   string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []call
	errs  []error
}

func (f *fakeSender) SendDirectMessage(_ context.Context, recipient, content string) (event.SignedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{recipient, content})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return event.SignedEvent{}, err
		}
	}
	return event.SignedEvent{ID: strings.Repeat("e", 64)}, nil
}

func recipient(t *testing.T) string {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	pub, err := crypto.DerivePublicKey(priv)
	require.NoError(t, err)
	return pub
}

func newService(t *testing.T, sender Sender, cfg Config) (*Service, *token.Issuer) {
	t.Helper()
	tokens := token.New(token.Config{Secret: token.Static("test-secret"), TTL: 15 * time.Minute})
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = "https://example.com/auth/verify"
	}
	svc, err := New(sender, tokens, cfg)
	require.NoError(t, err)
	return svc, tokens
}

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}

func TestNewRejectsBadVerifyURL(t *testing.T) {
	tokens := token.New(token.Config{Secret: token.Static("s")})
	for _, u := range []string{
		"",
		"example.com/verify",
		"ftp://example.com",
		"javascript:alert(1)",
		"https://example.com/verify?q=<b>",
		"https://example.com/a b",
	} {
		_, err := New(&fakeSender{}, tokens, Config{VerifyURL: u})
		require.Error(t, err, u)
		assert.True(t, errs.Is(err, errs.Configuration), u)
	}
}

func TestSendThenVerifyOnce(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	svc, _ := newService(t, sender, Config{AppName: "Acme"})
	pub := recipient(t)

	resp, err := svc.SendMagicLink(ctx, SendOptions{RecipientPubkey: strings.ToUpper(pub)})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, strings.Repeat("e", 64), resp.EventID)
	assert.True(t, strings.HasPrefix(resp.MagicLink, "https://example.com/auth/verify?token="))

	require.Len(t, sender.calls, 1)
	assert.Equal(t, pub, sender.calls[0].recipient)
	msg := sender.calls[0].content
	assert.Contains(t, msg, "Login to Acme:")
	assert.Contains(t, msg, resp.MagicLink)
	assert.Contains(t, msg, "Expires in 15 minutes")

	tok := tokenFrom(t, resp.MagicLink)
	subject, ok := svc.VerifyMagicLink(ctx, tok)
	require.True(t, ok)
	assert.Equal(t, pub, subject)

	_, ok = svc.VerifyMagicLink(ctx, tok)
	assert.False(t, ok, "a link can only be redeemed once")
}

func TestDeliveredLinkMatchesResponse(t *testing.T) {
	for _, base := range []string{
		"https://example.edu/~alice/verify",
		"http://localhost:3003/auth/magiclink/verify",
		"https://example.com/a(b)/verify",
	} {
		t.Run(base, func(t *testing.T) {
			sender := &fakeSender{}
			svc, _ := newService(t, sender, Config{VerifyURL: base})

			resp, err := svc.SendMagicLink(context.Background(), SendOptions{RecipientPubkey: recipient(t)})
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(resp.MagicLink, base+"?token="))

			require.Len(t, sender.calls, 1)
			assert.Contains(t, sender.calls[0].content, resp.MagicLink)
		})
	}
}

func TestVerifyLinkWithQueryInBaseURL(t *testing.T) {
	svc, _ := newService(t, &fakeSender{}, Config{VerifyURL: "https://example.com/verify?app=web"})
	resp, err := svc.SendMagicLink(context.Background(), SendOptions{RecipientPubkey: recipient(t)})
	require.NoError(t, err)

	u, err := url.Parse(resp.MagicLink)
	require.NoError(t, err)
	assert.Equal(t, "web", u.Query().Get("app"))
	assert.NotEmpty(t, u.Query().Get("token"))
}

func TestVerifyRejectsTokenWithoutSession(t *testing.T) {
	ctx := context.Background()
	svc, tokens := newService(t, &fakeSender{}, Config{})

	tok, err := tokens.Mint(ctx, recipient(t), time.Minute)
	require.NoError(t, err)

	_, ok := svc.VerifyMagicLink(ctx, tok)
	assert.False(t, ok)
}

func TestVerifyBadTokenSpendsSession(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	svc, _ := newService(t, &fakeSender{}, Config{Sessions: store})

	resp, err := svc.SendMagicLink(ctx, SendOptions{RecipientPubkey: recipient(t)})
	require.NoError(t, err)
	tok := tokenFrom(t, resp.MagicLink)

	// Another issuer with a different secret cannot redeem the link, and
	// the attempt spends it.
	other, err := New(&fakeSender{}, token.New(token.Config{Secret: token.Static("other")}), Config{
		VerifyURL: "https://example.com/auth/verify",
		Sessions:  store,
	})
	require.NoError(t, err)
	_, ok := other.VerifyMagicLink(ctx, tok)
	assert.False(t, ok)

	_, ok = svc.VerifyMagicLink(ctx, tok)
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

func TestVerifyMalformed(t *testing.T) {
	svc, _ := newService(t, &fakeSender{}, Config{})
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, ok := svc.VerifyMagicLink(context.Background(), tok)
		assert.False(t, ok)
	}
}

func TestVerifyExpiredSession(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := now
	svc, _ := newService(t, &fakeSender{}, Config{Now: func() time.Time { return clock }})

	resp, err := svc.SendMagicLink(ctx, SendOptions{RecipientPubkey: recipient(t)})
	require.NoError(t, err)

	clock = now.Add(time.Hour)
	_, ok := svc.VerifyMagicLink(ctx, tokenFrom(t, resp.MagicLink))
	assert.False(t, ok)
}

func TestSendInvalidRecipient(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newService(t, sender, Config{})

	resp, err := svc.SendMagicLink(context.Background(), SendOptions{RecipientPubkey: "npub1xyz"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Validation))
	assert.False(t, resp.Success)
	assert.Equal(t, errs.Validation, resp.Code)
	assert.Equal(t, "Failed to send magic link", resp.Error)
	assert.Empty(t, sender.calls)
}

func TestSendRetriesRelayFailures(t *testing.T) {
	relayDown := errs.New(errs.RelayConnection, "relay down")
	sender := &fakeSender{errs: []error{relayDown, relayDown, nil}}
	store := database.NewMemoryStore()
	svc, _ := newService(t, sender, Config{RetryAttempts: 3, RetryDelay: time.Millisecond, Sessions: store})

	resp, err := svc.SendMagicLink(context.Background(), SendOptions{RecipientPubkey: recipient(t)})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, sender.calls, 3)
	assert.Equal(t, 1, store.Len())
}

func TestSendGivesUpAfterAttempts(t *testing.T) {
	relayDown := errs.New(errs.RelayConnection, "relay down")
	sender := &fakeSender{errs: []error{relayDown, relayDown, relayDown}}
	store := database.NewMemoryStore()
	svc, _ := newService(t, sender, Config{RetryAttempts: 2, RetryDelay: time.Millisecond, Sessions: store})

	resp, err := svc.SendMagicLink(context.Background(), SendOptions{RecipientPubkey: recipient(t)})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.RelayConnection))
	assert.Equal(t, errs.RelayConnection, resp.Code)
	assert.Len(t, sender.calls, 2)
	assert.Zero(t, store.Len(), "undelivered links are not redeemable")
}

func TestSendDoesNotRetryConfigurationErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{errs.New(errs.Configuration, "no relays")}}
	svc, _ := newService(t, sender, Config{RetryAttempts: 5, RetryDelay: time.Millisecond})

	_, err := svc.SendMagicLink(context.Background(), SendOptions{RecipientPubkey: recipient(t)})
	assert.True(t, errs.Is(err, errs.Configuration))
	assert.Len(t, sender.calls, 1)
}

func TestSendWrapsUnclassifiedErrors(t *testing.T) {
	cause := errors.New("boom")
	sender := &fakeSender{errs: []error{cause}}
	svc, _ := newService(t, sender, Config{})

	resp, err := svc.SendMagicLink(context.Background(), SendOptions{RecipientPubkey: recipient(t)})
	assert.True(t, errs.Is(err, errs.MessageSend))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, errs.MessageSend, resp.Code)
	assert.NotContains(t, resp.Error, "boom")
}

func TestSendCancelledDuringRetry(t *testing.T) {
	relayDown := errs.New(errs.RelayConnection, "relay down")
	sender := &fakeSender{errs: []error{relayDown, relayDown}}
	svc, _ := newService(t, sender, Config{RetryAttempts: 2, RetryDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.SendMagicLink(ctx, SendOptions{RecipientPubkey: recipient(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sender.calls, 1)
}

func TestMessageOptions(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newService(t, sender, Config{AppName: "Acme", DefaultLocale: "fr"})
	ctx := context.Background()

	_, err := svc.SendMagicLink(ctx, SendOptions{RecipientPubkey: recipient(t)})
	require.NoError(t, err)
	assert.Contains(t, sender.calls[0].content, "Cliquez sur ce lien pour vous connecter à Acme")

	_, err = svc.SendMagicLink(ctx, SendOptions{
		RecipientPubkey: recipient(t),
		MessageOptions:  MessageOptions{Locale: "ar"},
	})
	require.NoError(t, err)
	assert.Contains(t, sender.calls[1].content, "\u200f")

	resp, err := svc.SendMagicLink(ctx, SendOptions{
		RecipientPubkey: recipient(t),
		MessageOptions: MessageOptions{
			Template:  "Hi {{name}}: {{link}}",
			Variables: map[string]string{"name": "**Ana**"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana: "+resp.MagicLink, sender.calls[2].content)

	_, err = svc.SendMagicLink(ctx, SendOptions{
		RecipientPubkey: recipient(t),
		MessageOptions:  MessageOptions{Template: "{{link}}", TextDirection: "rtl", Locale: "en"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sender.calls[3].content, "\u200f"))
}
