package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	intrnl "roomchat/internal"
	"roomchat/internal/blob"
	"roomchat/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr    string
	server  *http.Server
	store   *storage.Store
	hub     *intrnl.Hub
	sweeper *intrnl.Sweeper
	done    chan struct{}
	err     error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Hub exposes the running room registry.
func (h *ServerHandle) Hub() *intrnl.Hub {
	return h.hub
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the SQLite store and blob directory, restores archives,
// starts the inactivity sweeper and serves in the background. Call Stop/Wait
// to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	cfg.Path = NormalizeJoinPath(cfg.Path)
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	blobs, err := blob.NewStore(cfg.UploadDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	hub := intrnl.NewHub(intrnl.HubConfig{
		Messages:    store,
		Blobs:       blobs,
		ArchiveSink: store,
	})
	if err := hub.LoadArchives(context.Background()); err != nil {
		hub.Close()
		_ = store.Close()
		return nil, err
	}
	server := intrnl.NewServer(intrnl.ServerOptions{
		Hub:         hub,
		Store:       store,
		Blobs:       blobs,
		JoinPath:    cfg.Path,
		MaxFileSize: cfg.MaxFileSize,
		RequireAuth: cfg.RequireAuth,
	})

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		hub.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	sweeper := intrnl.NewSweeper(hub, intrnl.SweeperConfig{
		Interval:     cfg.SweepInterval,
		WarnAfter:    cfg.WarnAfter,
		ArchiveAfter: cfg.ArchiveAfter,
	})
	sweeperCtx := ctx
	if sweeperCtx == nil {
		sweeperCtx = context.Background()
	}
	sweeper.Start(sweeperCtx)

	handle := &ServerHandle{
		addr:    listener.Addr().String(),
		server:  &http.Server{Addr: cfg.Addr, Handler: server.Echo()},
		store:   store,
		hub:     hub,
		sweeper: sweeper,
		done:    make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handle.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server shutdown failed", "err", err)
		}
	}()

	go handle.serve(listener)

	slog.Info("server started", "addr", handle.addr, "path", cfg.Path, "db", cfg.DBPath, "uploads", cfg.UploadDir)
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.sweeper.Stop()
	h.hub.Close()
	if err := h.store.Close(); err != nil {
		slog.Error("store close failed", "err", err)
	}
	h.err = err
}
