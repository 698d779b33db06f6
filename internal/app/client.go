package app

import (
	"errors"

	intrnl "roomchat/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = DefaultSessionPath()
	}
	return intrnl.RunClient(intrnl.ClientOptions{
		ServerURL:   cfg.ServerURL,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Room:        cfg.Room,
		SessionPath: cfg.SessionPath,
	})
}
