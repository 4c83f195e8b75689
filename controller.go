package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"nostr_magiclink/internal/credential"
	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/locale"
	"nostr_magiclink/internal/magiclink"
	"nostr_magiclink/internal/relay"
)

const maxRequestBody = 64 << 10

// Links is the magic link service as seen by the HTTP layer.
type Links interface {
	SendMagicLink(ctx context.Context, opts magiclink.SendOptions) (magiclink.Response, error)
	VerifyMagicLink(ctx context.Context, token string) (string, bool)
}

type RelayStatus interface {
	Status() relay.Status
	Relays() []relay.RelayStatus
}

type Controller struct {
	links  Links
	relays RelayStatus
	creds  *credential.Issuer
	log    *slog.Logger
}

func NewController(links Links, relays RelayStatus, creds *credential.Issuer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		links:  links,
		relays: relays,
		creds:  creds,
		log:    log,
	}
}

// Routes returns the full HTTP surface with CORS and request ids applied.
func (c *Controller) Routes(origins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", c.HandleHealth)
	mux.HandleFunc("POST /auth/magiclink/request", c.HandleRequest)
	mux.HandleFunc("GET /auth/magiclink/verify", c.HandleVerify)
	mux.HandleFunc("GET /auth/session", c.HandleSession)
	mux.HandleFunc("GET /.well-known/jwks.json", c.HandleJWKS)

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler(c.requestID(mux))
}

func (c *Controller) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		c.log.Debug("request served",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.log.Error("failed to write json response", "error", err)
	}
}

func (c *Controller) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		c.log.Error(message, "error", err)
	}
	c.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"relays":    c.relays.Status(),
		"endpoints": c.relays.Relays(),
	})
}

// magicLinkRequest is what an anonymous caller may choose. Custom templates
// stay with in-process callers of the service.
type magicLinkRequest struct {
	Pubkey  string          `json:"pubkey"`
	Locale  string          `json:"locale,omitempty"`
	Context *locale.Context `json:"context,omitempty"`
}

func (c *Controller) HandleRequest(w http.ResponseWriter, r *http.Request) {
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Error("failed to close request body", "error", err)
		}
	}(r.Body)

	var req magicLinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "Invalid JSON", nil)
		return
	}
	if strings.TrimSpace(req.Pubkey) == "" {
		c.writeError(w, http.StatusBadRequest, "pubkey is required", nil)
		return
	}

	resp, err := c.links.SendMagicLink(r.Context(), magiclink.SendOptions{
		RecipientPubkey: req.Pubkey,
		MessageOptions: magiclink.MessageOptions{
			Locale:  req.Locale,
			Context: req.Context,
		},
	})
	if err != nil {
		// The service already logged the cause.
		c.writeJSON(w, statusOf(err), resp)
		return
	}

	// The link itself only ever travels inside the encrypted message.
	c.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Magic link sent",
		"eventId": resp.EventID,
	})
}

func statusOf(err error) int {
	switch errs.CodeOf(err) {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.RelayConnection, errs.MessageSend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (c *Controller) HandleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		c.writeError(w, http.StatusBadRequest, "token is required", nil)
		return
	}

	pubkey, ok := c.links.VerifyMagicLink(r.Context(), token)
	if !ok {
		c.writeError(w, http.StatusUnauthorized, "Invalid or expired magic link", nil)
		return
	}

	session, expires, err := c.creds.Issue(pubkey)
	if err != nil {
		c.writeError(w, http.StatusInternalServerError, "failed to issue session", err)
		return
	}

	c.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"pubkey":    pubkey,
		"session":   session,
		"expiresAt": expires.UTC(),
	})
}

func (c *Controller) HandleSession(w http.ResponseWriter, r *http.Request) {
	bearer, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || strings.TrimSpace(bearer) == "" {
		c.writeError(w, http.StatusUnauthorized, "missing bearer credential", nil)
		return
	}

	claims, err := c.creds.Verify(strings.TrimSpace(bearer))
	if err != nil {
		c.log.Debug("session credential rejected", "error", err)
		c.writeError(w, http.StatusUnauthorized, "invalid session", nil)
		return
	}

	body := map[string]any{"pubkey": claims.Subject}
	if claims.Expiry != nil {
		body["expiresAt"] = claims.Expiry.Time().UTC()
	}
	c.writeJSON(w, http.StatusOK, body)
}

func (c *Controller) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	c.writeJSON(w, http.StatusOK, c.creds.JWKS())
}
