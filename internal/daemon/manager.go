// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/ManuGH/loopcast/internal/config"
)

// ShutdownHook performs cleanup during graceful shutdown. Hooks run in
// reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Deps are the manager's collaborators.
type Deps struct {
	Logger  zerolog.Logger
	Handler http.Handler
	// OnListening runs once the listener is bound, before the first request
	// is accepted.
	OnListening func(addr net.Addr)
}

func (d *Deps) validate() error {
	if d.Handler == nil {
		return ErrMissingHandler
	}
	return nil
}

// Manager owns the HTTP server lifecycle.
type Manager interface {
	// Start binds the listener and serves until ctx is cancelled or the
	// server fails, then shuts down.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	RegisterShutdownHook(name string, hook ShutdownHook)
	// Addr is the bound address, nil before Start has bound it.
	Addr() net.Addr
}

type manager struct {
	serverCfg config.ServerConfig
	deps      Deps
	logger    zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	hooks    []namedHook
	started  bool
	stopping bool
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager validates deps and returns an unstarted manager.
func NewManager(serverCfg config.ServerConfig, deps Deps) (Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if serverCfg.ShutdownTimeout <= 0 {
		serverCfg.ShutdownTimeout = 15 * time.Second
	}
	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", m.serverCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.serverCfg.ListenAddr, err)
	}
	if m.serverCfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, m.serverCfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           m.deps.Handler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
	}
	m.mu.Lock()
	m.server = srv
	m.mu.Unlock()

	m.logger.Info().
		Str("event", "server.listening").
		Str("addr", ln.Addr().String()).
		Int("max_connections", m.serverCfg.MaxConnections).
		Dur("read_timeout", m.serverCfg.ReadTimeout).
		Dur("write_timeout", m.serverCfg.WriteTimeout).
		Msg("API server listening")
	if m.deps.OnListening != nil {
		m.deps.OnListening(ln.Addr())
	}
	m.mu.Lock()
	m.addr = ln.Addr()
	m.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Str("event", "server.failed").Msg("API server failed")
			errChan <- fmt.Errorf("API server: %w", err)
		}
		close(errChan)
	}()

	select {
	case err, failed := <-errChan:
		if !failed {
			return nil
		}
		if shutdownErr := m.Shutdown(ctx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		err := m.Shutdown(ctx)
		// Serve returns once Shutdown closed the listener.
		<-errChan
		return err
	}
}

// Shutdown drains the server, then runs the hooks. The caller's
// cancellation is ignored; ShutdownTimeout bounds the whole sequence.
func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	srv := m.server
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Str("event", "server.stopped").Msg("daemon manager stopped cleanly")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

func (m *manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}
