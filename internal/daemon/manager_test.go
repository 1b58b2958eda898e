// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/loopcast/internal/config"
	"github.com/ManuGH/loopcast/internal/log"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddr:      "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     10 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}
}

// startManager runs mgr.Start in the background and waits for the listener.
func startManager(t *testing.T, mgr Manager) (context.CancelFunc, <-chan error, net.Addr) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mgr.Start(ctx) }()

	require.Eventually(t, func() bool { return mgr.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return cancel, errCh, mgr.Addr()
}

func noKeepAliveClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
}

func TestNewManager_MissingHandler(t *testing.T) {
	_, err := NewManager(testServerConfig(), Deps{Logger: log.WithComponent("test")})
	require.ErrorIs(t, err, ErrMissingHandler)
}

func TestManager_ServesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var listening net.Addr
	mgr, err := NewManager(testServerConfig(), Deps{
		Logger: log.WithComponent("test"),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "OK")
		}),
		OnListening: func(addr net.Addr) { listening = addr },
	})
	require.NoError(t, err)

	var hookOrder []string
	mgr.RegisterShutdownHook("first", func(context.Context) error {
		hookOrder = append(hookOrder, "first")
		return nil
	})
	mgr.RegisterShutdownHook("second", func(context.Context) error {
		hookOrder = append(hookOrder, "second")
		return nil
	})

	cancel, errCh, addr := startManager(t, mgr)
	assert.Equal(t, addr.String(), listening.String())

	resp, err := noKeepAliveClient().Get("http://" + addr.String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	assert.Equal(t, []string{"second", "first"}, hookOrder, "hooks run in reverse order")
}

func TestManager_HookErrorsAreJoined(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), Deps{Logger: log.WithComponent("test"), Handler: http.NotFoundHandler()})
	require.NoError(t, err)

	boom := errors.New("flush failed")
	mgr.RegisterShutdownHook("cache", func(context.Context) error { return boom })

	cancel, errCh, _ := startManager(t, mgr)
	cancel()
	err = <-errCh
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "hook cache")
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), Deps{Logger: log.WithComponent("test"), Handler: http.NotFoundHandler()})
	require.NoError(t, err)
	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_ListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testServerConfig()
	cfg.ListenAddr = taken.Addr().String()
	mgr, err := NewManager(cfg, Deps{Logger: log.WithComponent("test"), Handler: http.NotFoundHandler()})
	require.NoError(t, err)

	require.Error(t, mgr.Start(context.Background()))
	assert.ErrorIs(t, mgr.Start(context.Background()), ErrAlreadyStarted)
}

func TestManager_ConnectionLimit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	cfg := testServerConfig()
	cfg.MaxConnections = 1
	cfg.WriteTimeout = 0
	mgr, err := NewManager(cfg, Deps{
		Logger: log.WithComponent("test"),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entered <- struct{}{}
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}),
	})
	require.NoError(t, err)
	cancel, errCh, addr := startManager(t, mgr)

	client := noKeepAliveClient()
	done := make(chan struct{}, 2)
	for range 2 {
		go func() {
			resp, err := client.Get("http://" + addr.String() + "/")
			if err == nil {
				_ = resp.Body.Close()
			}
			done <- struct{}{}
		}()
	}

	<-entered
	select {
	case <-entered:
		t.Fatal("second connection was served while the first held the only slot")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	<-entered
	<-done
	<-done

	cancel()
	require.NoError(t, <-errCh)
}
