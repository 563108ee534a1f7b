// Package app wires stores, services, and transports into runnable
// processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/hoangsonww/passwordless-auth/internal/audit"
	"github.com/hoangsonww/passwordless-auth/internal/magiclink"
	"github.com/hoangsonww/passwordless-auth/internal/passkey"
	"github.com/hoangsonww/passwordless-auth/internal/server"
	"github.com/hoangsonww/passwordless-auth/internal/session"
	"github.com/hoangsonww/passwordless-auth/internal/storage/sqlite"
	"github.com/hoangsonww/passwordless-auth/internal/totp"
)

// ServerConfig carries everything the HTTP process needs at startup.
type ServerConfig struct {
	Addr            string
	DBPath          string
	JWTSecret       []byte
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	BaseURL         string
	MagicLinkTTL    time.Duration
	TOTPIssuer      string
	WebAuthn        passkey.Config
	CleanupInterval time.Duration
}

// Server owns the HTTP listener and the backing store.
type Server struct {
	listener        net.Listener
	httpServer      *http.Server
	store           *sqlite.Store
	authServer      *server.Server
	cleanupInterval time.Duration
}

// NewServer opens the store and assembles the authentication services.
func NewServer(cfg ServerConfig) (*Server, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	issuer, err := session.NewIssuer(session.Config{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	magicLinks, err := magiclink.NewService(magiclink.Config{
		BaseURL: cfg.BaseURL,
		LinkTTL: cfg.MagicLinkTTL,
	}, store, store, store, nil)
	if err != nil {
		store.Close()
		return nil, err
	}
	totpService, err := totp.NewService(store, cfg.TOTPIssuer, nil)
	if err != nil {
		store.Close()
		return nil, err
	}
	passkeys, err := passkey.NewService(cfg.WebAuthn, store, store, nil)
	if err != nil {
		store.Close()
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	authServer := server.NewServer(magicLinks, totpService, passkeys, issuer, audit.NewLogSink(log.Default()))
	mux := http.NewServeMux()
	authServer.RegisterRoutes(mux)

	return &Server{
		listener:        listener,
		httpServer:      &http.Server{Handler: mux},
		store:           store,
		authServer:      authServer,
		cleanupInterval: cfg.CleanupInterval,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks until the listener fails or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.store.Close()

	s.authServer.StartCleanup(serveCtx, s.cleanupInterval)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// RunServer creates and serves an auth server until the context ends.
func RunServer(ctx context.Context, cfg ServerConfig) error {
	s, err := NewServer(cfg)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}
