// Package magiclink issues login links and delivers them as encrypted
// direct messages, then redeems them exactly once.
package magiclink

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"nostr_magiclink/internal/database"
	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/event"
	"nostr_magiclink/internal/identity"
	"nostr_magiclink/internal/locale"
	"nostr_magiclink/internal/sanitize"
)

const sendFailedMessage = "Failed to send magic link"

// Sender delivers an encrypted direct message.
type Sender interface {
	SendDirectMessage(ctx context.Context, recipientPub, content string) (event.SignedEvent, error)
}

// Tokens mints and checks the token embedded in a link.
type Tokens interface {
	Mint(ctx context.Context, subject string, ttl time.Duration) (string, error)
	Verify(ctx context.Context, token string) (string, bool)
	TTL() time.Duration
}

type MessageOptions struct {
	// Locale overrides Config.DefaultLocale.
	Locale string `json:"locale,omitempty"`
	// TextDirection applies to custom templates. Defaults to the locale's.
	TextDirection locale.Direction `json:"textDirection,omitempty"`
	// Template replaces the localized message; {{link}} receives the link.
	Template  string            `json:"template,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Context   *locale.Context   `json:"context,omitempty"`
}

type SendOptions struct {
	RecipientPubkey string
	MessageOptions  MessageOptions
}

type Response struct {
	Success   bool      `json:"success"`
	MagicLink string    `json:"magicLink,omitempty"`
	EventID   string    `json:"eventId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      errs.Code `json:"code,omitempty"`
}

type Config struct {
	// VerifyURL is the http(s) endpoint that redeems tokens.
	VerifyURL     string
	AppName       string
	DefaultLocale string

	// RetryAttempts is the total number of delivery attempts. Only relay
	// failures are retried.
	RetryAttempts int
	RetryDelay    time.Duration

	// Sessions defaults to an in-memory store.
	Sessions database.SessionStore

	Now    func() time.Time
	Logger *slog.Logger
}

type Service struct {
	sender Sender
	tokens Tokens
	cfg    Config
	verify *url.URL
	log    *slog.Logger
}

func New(sender Sender, tokens Tokens, cfg Config) (*Service, error) {
	// The link is embedded as is, so the base must already be in the exact
	// form the message formatter accepts.
	if sanitize.URL(cfg.VerifyURL) != cfg.VerifyURL {
		return nil, errs.New(errs.Configuration, "verify url must be a canonical absolute http(s) url without markup characters")
	}
	u, err := url.Parse(cfg.VerifyURL)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "invalid verify url", err)
	}
	if cfg.AppName == "" {
		cfg.AppName = "Nostr"
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = locale.Default
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.Sessions == nil {
		cfg.Sessions = database.NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{sender: sender, tokens: tokens, cfg: cfg, verify: u, log: log}, nil
}

// SendMagicLink mints a token for the recipient, formats the localized
// message around the link and delivers it. The error carries the taxonomy
// code; Response is safe to return to clients as is.
func (s *Service) SendMagicLink(ctx context.Context, opts SendOptions) (Response, error) {
	resp, err := s.send(ctx, opts)
	if err != nil {
		e := errs.Ensure(errs.MessageSend, "failed to send magic link", err)
		s.log.Error("failed to send magic link",
			"recipient", identity.Redact(opts.RecipientPubkey),
			"code", e.Code,
			"error", e)
		return Response{Success: false, Error: sendFailedMessage, Code: e.Code}, e
	}
	return resp, nil
}

func (s *Service) send(ctx context.Context, opts SendOptions) (Response, error) {
	recipient, err := identity.Normalize(opts.RecipientPubkey)
	if err != nil {
		return Response{}, err
	}

	ttl := s.tokens.TTL()
	token, err := s.tokens.Mint(ctx, recipient, ttl)
	if err != nil {
		return Response{}, err
	}
	link := s.link(token)
	message := s.formatMessage(link, ttl, opts.MessageOptions)

	hash := database.HashToken(token)
	err = s.cfg.Sessions.Put(ctx, database.MagicLinkSession{
		TokenHash: hash,
		Subject:   recipient,
		ExpiresAt: s.cfg.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return Response{}, errs.Wrap(errs.MessageSend, "failed to record magic link", err)
	}

	ev, err := s.deliver(ctx, recipient, message)
	if err != nil {
		// Never leave a redeemable link behind for a message nobody got.
		if _, _, cerr := s.cfg.Sessions.Consume(ctx, hash, s.cfg.Now()); cerr != nil {
			s.log.Warn("failed to drop undelivered magic link", "error", cerr)
		}
		return Response{}, err
	}

	s.log.Info("magic link sent", "recipient", identity.Redact(recipient), "event_id", ev.ID)
	return Response{Success: true, MagicLink: link, EventID: ev.ID}, nil
}

// deliver retries relay failures only; configuration and validation errors
// cannot improve by waiting.
func (s *Service) deliver(ctx context.Context, recipient, message string) (event.SignedEvent, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		ev, err := s.sender.SendDirectMessage(ctx, recipient, message)
		if err == nil {
			return ev, nil
		}
		lastErr = err
		if !errs.Is(err, errs.RelayConnection) || attempt == s.cfg.RetryAttempts {
			break
		}

		s.log.Warn("retrying magic link delivery", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return event.SignedEvent{}, errs.Wrap(errs.RelayConnection, "delivery cancelled", ctx.Err())
		case <-time.After(s.cfg.RetryDelay):
		}
	}
	return event.SignedEvent{}, lastErr
}

func (s *Service) link(token string) string {
	u := *s.verify
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) formatMessage(link string, ttl time.Duration, opts MessageOptions) string {
	code := opts.Locale
	if code == "" {
		code = s.cfg.DefaultLocale
	}

	if opts.Template != "" {
		dir := opts.TextDirection
		if dir == "" {
			dir = locale.DirectionOf(code)
		}
		return locale.Custom(opts.Template, dir, link, opts.Variables)
	}

	return locale.Format(code, locale.Params{
		AppName:       s.cfg.AppName,
		MagicLink:     link,
		ExpiryMinutes: int(ttl / time.Minute),
		Context:       opts.Context,
	})
}

// VerifyMagicLink redeems token and returns the identity it was issued to.
// Every presented token is spent, whether or not it verifies.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	subject, ok := s.tokens.Verify(ctx, token)

	session, live, err := s.cfg.Sessions.Consume(ctx, database.HashToken(token), s.cfg.Now())
	if err != nil {
		s.log.Error("failed to consume magic link session", "error", err)
		return "", false
	}
	if !ok || !live || session.Subject != subject {
		s.log.Debug("magic link rejected", "signature_ok", ok, "session_live", live)
		return "", false
	}

	s.log.Info("magic link redeemed", "pubkey", identity.Redact(subject))
	return subject, true
}
