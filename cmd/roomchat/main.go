package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"roomchat/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("roomchat", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("ROOMCHAT_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := flagSet.String("path", envOrDefault("ROOMCHAT_PATH", "/join"), "websocket join path")
	db := flagSet.String("db", envOrDefault("ROOMCHAT_DB_PATH", ""), "sqlite database path (defaults to a per-user path)")
	uploads := flagSet.String("uploads", envOrDefault("ROOMCHAT_UPLOAD_DIR", ""), "directory for uploaded files")
	maxFile := flagSet.Int64("max-file-size", 10*1024*1024, "largest accepted upload in bytes")
	requireAuth := flagSet.Bool("require-auth", envBool("ROOMCHAT_REQUIRE_AUTH"), "reject websocket and upload requests without a session token")
	sweepEvery := flagSet.String("sweep-interval", envOrDefault("ROOMCHAT_SWEEP_INTERVAL", "1h"), "how often idle rooms are checked")
	warnAfter := flagSet.String("warn-after", envOrDefault("ROOMCHAT_WARN_AFTER", "5d"), "idle time before members are warned")
	archiveAfter := flagSet.String("archive-after", envOrDefault("ROOMCHAT_ARCHIVE_AFTER", "7d"), "idle time before a room is archived")
	serverURL := flagSet.String("server-url", envOrDefault("ROOMCHAT_SERVER", "ws://127.0.0.1:8080/join"), "server websocket URL (client mode)")
	username := flagSet.String("user", envOrDefault("ROOMCHAT_USER", ""), "username for login")
	password := flagSet.String("password", envOrDefault("ROOMCHAT_PASSWORD", ""), "password for login (prompted in the client when empty)")
	debug := flagSet.Bool("debug", false, "enable debug logging")
	quiet := flagSet.Bool("quiet", false, "only log warnings and errors")
	flagSet.Parse(args)

	configureLogging(*debug, *quiet || mode != modeServer)

	room := ""
	if remaining := flagSet.Args(); len(remaining) > 0 {
		room = remaining[0]
	}

	serverCfg := app.ServerConfig{
		Addr:        *addr,
		Path:        app.NormalizeJoinPath(*path),
		DBPath:      *db,
		UploadDir:   *uploads,
		MaxFileSize: *maxFile,
		RequireAuth: *requireAuth,
	}
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}
	var err error
	if serverCfg.SweepInterval, err = app.ParseDuration(*sweepEvery); err == nil {
		if serverCfg.WarnAfter, err = app.ParseDuration(*warnAfter); err == nil {
			serverCfg.ArchiveAfter, err = app.ParseDuration(*archiveAfter)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(2)
	}

	clientCfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
		Password:  *password,
		Room:      room,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg)
	default:
		err = runClientMode(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}
}

func configureLogging(debug, quiet bool) {
	level := slog.LevelInfo
	switch {
	case debug:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runServerMode(ctx context.Context, cfg app.ServerConfig) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("roomchat server listening", "addr", handle.Addr(), "path", cfg.Path)
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or ROOMCHAT_SERVER")
	}
	return app.RunClient(cfg)
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBool(key string) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && value
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
