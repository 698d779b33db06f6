package internal

import (
	"context"
	"sort"
	"sync"
)

// Archive holds the message history of rooms removed for inactivity. An
// entry is independent of any later live room with the same name.
type Archive struct {
	mu    sync.RWMutex
	rooms map[string][]Message
}

func NewArchive() *Archive {
	return &Archive{rooms: make(map[string][]Message)}
}

// Put stores a copy of msgs under room, replacing any earlier snapshot.
func (a *Archive) Put(room string, msgs []Message) {
	stored := make([]Message, len(msgs))
	copy(stored, msgs)
	a.mu.Lock()
	a.rooms[room] = stored
	a.mu.Unlock()
}

// Get returns the archived messages for room, or an empty slice.
func (a *Archive) Get(room string) []Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stored := a.rooms[room]
	out := make([]Message, len(stored))
	copy(out, stored)
	return out
}

// Rooms lists archived room names in order.
func (a *Archive) Rooms() []string {
	a.mu.RLock()
	names := make([]string, 0, len(a.rooms))
	for name := range a.rooms {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Load replaces the in-memory snapshots with what sink holds.
func (a *Archive) Load(ctx context.Context, sink ArchiveSink) error {
	stored, err := sink.LoadArchives(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for room, rows := range stored {
		a.rooms[room] = fromStorageMessages(rows)
	}
	return nil
}
