package internal

import (
	"sync"
	"time"
)

// Room is the live state of one chat room. Every field below mu is guarded
// by it, and fan-out enqueues happen while it is held so members observe
// events in mutation order.
type Room struct {
	name string

	mu           sync.Mutex
	members      map[*Client]string
	messages     []Message
	files        *fileHistory
	quota        *uploadQuota
	lastActiveAt time.Time
	warned       bool
	archived     bool
	seeded       bool
}

func newRoom(name string, now time.Time, fileLimit, uploadLimit int) *Room {
	return &Room{
		name:         name,
		members:      make(map[*Client]string),
		files:        newFileHistory(fileLimit),
		quota:        newUploadQuota(uploadLimit),
		lastActiveAt: now,
	}
}

// Name returns the room key.
func (room *Room) Name() string {
	return room.name
}

// broadcastLocked sends payload to every member except skip.
func (room *Room) broadcastLocked(payload []byte, skip *Client) {
	if payload == nil {
		return
	}
	for client := range room.members {
		if client == skip {
			continue
		}
		client.enqueue(payload)
	}
}

func (room *Room) historyLocked() []Message {
	out := make([]Message, len(room.messages))
	copy(out, room.messages)
	return out
}
