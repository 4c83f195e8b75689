package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nostr_magiclink/internal/credential"
	"nostr_magiclink/internal/database"
	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/event"
	"nostr_magiclink/internal/hub"
	"nostr_magiclink/internal/identity"
	"nostr_magiclink/internal/logging"
	"nostr_magiclink/internal/magiclink"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP login service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			app, err := NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			if cfg.PrivateKey == "" {
				log.Warn("NOSTR_PRIVATE_KEY not set, magic links cannot be sent")
			}
			if err := app.Relays.Connect(ctx); err != nil {
				log.Warn("initial relay connection failed, will retry on send", "error", err)
			}
			defer func() {
				dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := app.Relays.Disconnect(dctx); err != nil {
					log.Warn("relay disconnect failed", "error", err)
				}
			}()

			go (&database.Sweeper{
				Store:    app.Sessions,
				Interval: cfg.SweepInterval,
				Logger:   log,
			}).Run(ctx)

			creds, err := app.Credentials()
			if err != nil {
				return err
			}

			controller := NewController(app.Links, app.Relays, creds, log.With("component", "http"))
			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           controller.Routes(cfg.CORSOrigins),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return listen(ctx, srv, log)
		},
	}
}

func relayCmd() *cobra.Command {
	var addr string
	var maxEvents int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a local development relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logging.New(slog.LevelInfo, logging.FormatText, os.Stderr)
			h := hub.NewHub(ctx, event.NewBuilder(event.Config{}), hub.WithLogger(log), hub.WithMaxEvents(maxEvents))
			go h.Run()

			log.Info("relay listening", "url", "ws://localhost"+addr)
			return listen(ctx, &http.Server{
				Addr:              addr,
				Handler:           h,
				ReadHeaderTimeout: 10 * time.Second,
			}, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7447", "listen address")
	cmd.Flags().IntVar(&maxEvents, "max-events", 10000, "events kept in memory")
	return cmd
}

// listen serves until ctx is cancelled, then shuts srv down gracefully.
func listen(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func keygenCmd() *cobra.Command {
	var sessionKey string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a Nostr key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := identity.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "NOSTR_PRIVATE_KEY=%s\n", pair.PrivateKey)
			fmt.Fprintf(out, "public key: %s\n", pair.PublicKey)

			if sessionKey != "" {
				key, err := credential.GenerateKey()
				if err != nil {
					return err
				}
				if err := credential.WriteKeyFile(sessionKey, key); err != nil {
					return err
				}
				fmt.Fprintf(out, "SESSION_KEY_FILE=%s\n", sessionKey)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "also write a P-256 session signing key to this path")
	return cmd
}

func sendCmd() *cobra.Command {
	var to string
	var opts magiclink.MessageOptions
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one magic link and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			app, err := NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.Relays.Disconnect(context.Background())

			resp, err := app.Links.SendMagicLink(cmd.Context(), magiclink.SendOptions{
				RecipientPubkey: to,
				MessageOptions:  opts,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event: %s\nlink:  %s\n", resp.EventID, resp.MagicLink)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient public key (hex)")
	cmd.Flags().StringVar(&opts.Locale, "locale", "", "message locale")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Check a magic link token without redeeming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			app, err := NewApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			claims, err := app.Tokens.Parse(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "subject: %s\n", claims.Subject)
			fmt.Fprintf(out, "id:      %s\n", claims.ID)
			fmt.Fprintf(out, "expires: %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func decryptCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "decrypt <ciphertext>",
		Short: "Decrypt a direct message addressed to the configured key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if cfg.PrivateKey == "" {
				return errs.New(errs.Configuration, "NOSTR_PRIVATE_KEY is required to decrypt")
			}
			sender, err := identity.Normalize(from)
			if err != nil {
				return err
			}

			plaintext, err := event.NewBuilder(event.Config{}).DecryptFrom(args[0], cfg.PrivateKey, sender)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender public key (hex)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
