package internal

import (
	"sync"
	"time"
)

// PresenceStatus is what /presence reports for one account.
type PresenceStatus struct {
	Username    string     `json:"username"`
	Online      bool       `json:"online"`
	Connections int        `json:"connections"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

type presenceEntry struct {
	conns    int
	lastSeen time.Time
}

// PresenceTracker counts live websocket connections per authenticated user
// and remembers when each user's last connection closed.
type PresenceTracker struct {
	mu    sync.Mutex
	now   func() time.Time
	users map[string]*presenceEntry
}

func NewPresenceTracker(now func() time.Time) *PresenceTracker {
	if now == nil {
		now = time.Now
	}
	return &PresenceTracker{now: now, users: make(map[string]*presenceEntry)}
}

// Connected records a new connection for username.
func (p *PresenceTracker) Connected(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[username]
	if !ok {
		entry = &presenceEntry{}
		p.users[username] = entry
	}
	entry.conns++
}

// Disconnected drops one connection. The last one stamps the last-seen time.
func (p *PresenceTracker) Disconnected(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[username]
	if !ok || entry.conns == 0 {
		return
	}
	entry.conns--
	if entry.conns == 0 {
		entry.lastSeen = p.now()
	}
}

func (p *PresenceTracker) Status(username string) PresenceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := PresenceStatus{Username: username}
	entry, ok := p.users[username]
	if !ok {
		return status
	}
	status.Connections = entry.conns
	status.Online = entry.conns > 0
	if !status.Online {
		seen := entry.lastSeen
		status.LastSeen = &seen
	}
	return status
}

// OnlineCount returns how many users have at least one live connection.
func (p *PresenceTracker) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, entry := range p.users {
		if entry.conns > 0 {
			count++
		}
	}
	return count
}
