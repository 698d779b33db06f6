package internal

import (
	"testing"
	"time"
)

func TestPresenceTracksConnectionsAndLastSeen(t *testing.T) {
	clock := newTestClock()
	p := NewPresenceTracker(clock.Now)
	p.Connected("alice")
	p.Connected("alice")
	p.Connected("bob")
	if p.OnlineCount() != 2 {
		t.Fatalf("OnlineCount = %d", p.OnlineCount())
	}

	p.Disconnected("alice")
	if status := p.Status("alice"); !status.Online || status.Connections != 1 || status.LastSeen != nil {
		t.Fatalf("alice should still be online: %+v", status)
	}
	clock.Advance(time.Minute)
	p.Disconnected("alice")
	status := p.Status("alice")
	if status.Online || status.LastSeen == nil || !status.LastSeen.Equal(clock.Now()) {
		t.Fatalf("alice should be offline with a last-seen stamp: %+v", status)
	}
	if p.OnlineCount() != 1 {
		t.Fatalf("OnlineCount = %d, want 1", p.OnlineCount())
	}

	p.Disconnected("alice")
	p.Disconnected("nobody")
	if status := p.Status("nobody"); status.Online || status.LastSeen != nil || status.Username != "nobody" {
		t.Fatalf("unknown user: %+v", status)
	}
	if status := p.Status("alice"); status.Connections != 0 {
		t.Fatalf("connections went negative: %+v", status)
	}
}
