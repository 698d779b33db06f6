package app

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr          string
	Path          string
	DBPath        string
	UploadDir     string
	MaxFileSize   int64
	RequireAuth   bool
	SweepInterval time.Duration
	WarnAfter     time.Duration
	ArchiveAfter  time.Duration
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string
	Username    string
	Password    string
	Room        string
	SessionPath string
}

// DefaultDataDir returns the per-user directory for the database and blobs.
func DefaultDataDir() string {
	if env := os.Getenv("ROOMCHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomchat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Roomchat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Roomchat")
		}
		return filepath.Join(home, ".local", "share", "roomchat")
	}
	return filepath.Join(".", ".roomchat")
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("ROOMCHAT_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), "roomchat.db")
}

// DefaultSessionPath is where the client keeps its login token.
func DefaultSessionPath() string {
	if env := os.Getenv("ROOMCHAT_SESSION_PATH"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), "session.json")
}

// DefaultUploadDir returns where uploaded blobs are kept.
func DefaultUploadDir() string {
	if env := os.Getenv("ROOMCHAT_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), "uploads")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

// ParseDuration reads a duration such as "90m" or "7d". A bare integer is
// taken as seconds.
func ParseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}
