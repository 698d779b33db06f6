package internal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// HubConfig wires the hub to its collaborators. Nil stores are allowed: a nil
// Messages keeps history in memory only and a nil ArchiveSink keeps archives
// in memory only.
type HubConfig struct {
	Messages         MessageStore
	Blobs            BlobStore
	ArchiveSink      ArchiveSink
	Metrics          *Metrics
	Now              func() time.Time
	Location         *time.Location
	DailyUploadLimit int
	FileHistoryLimit int
}

// FileUpload is an upload as submitted by a client.
type FileUpload struct {
	OriginalName string
	MimeType     string
	Data         []byte
}

// Hub is the registry of live rooms and connected clients.
type Hub struct {
	mutex         sync.RWMutex
	rooms         map[string]*Room
	archivedNames map[string]bool

	clientsMu sync.RWMutex
	clients   map[*Client]struct{}

	messages    MessageStore
	blobs       BlobStore
	archiveSink ArchiveSink
	archive     *Archive
	writer      *writeBehind
	metrics     *Metrics
	now         func() time.Time
	location    *time.Location
	uploadLimit int
	fileLimit   int
}

// NewHub builds an empty hub. Call Close to flush pending writes.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.DailyUploadLimit <= 0 {
		cfg.DailyUploadLimit = defaultDailyUploadLimit
	}
	if cfg.FileHistoryLimit <= 0 {
		cfg.FileHistoryLimit = defaultFileHistoryLimit
	}
	return &Hub{
		rooms:         make(map[string]*Room),
		archivedNames: make(map[string]bool),
		clients:       make(map[*Client]struct{}),
		messages:      cfg.Messages,
		blobs:         cfg.Blobs,
		archiveSink:   cfg.ArchiveSink,
		archive:       NewArchive(),
		writer:        newWriteBehind(cfg.Metrics),
		metrics:       cfg.Metrics,
		now:           cfg.Now,
		location:      cfg.Location,
		uploadLimit:   cfg.DailyUploadLimit,
		fileLimit:     cfg.FileHistoryLimit,
	}
}

// LoadArchives restores archive snapshots from the configured sink.
func (hub *Hub) LoadArchives(ctx context.Context) error {
	if hub.archiveSink == nil {
		return nil
	}
	if err := hub.archive.Load(ctx, hub.archiveSink); err != nil {
		return fmt.Errorf("load archives: %w", err)
	}
	slog.Info("archives loaded", "rooms", len(hub.archive.Rooms()))
	return nil
}

// Close flushes pending persistence writes.
func (hub *Hub) Close() {
	hub.writer.close()
}

// Metrics returns the counters the hub updates.
func (hub *Hub) Metrics() *Metrics {
	return hub.metrics
}

// Exists reports whether a live room with the given name exists.
func (hub *Hub) Exists(name string) bool {
	return hub.getRoom(strings.TrimSpace(name)) != nil
}

// CreateRoom makes sure a live room exists without adding members.
func (hub *Hub) CreateRoom(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: room name is required", ErrValidation)
	}
	for {
		room, created := hub.getOrCreateRoom(name)
		room.mu.Lock()
		if room.archived {
			room.mu.Unlock()
			continue
		}
		hub.seedLocked(ctx, room)
		room.mu.Unlock()
		if created {
			hub.broadcastRoomList()
		}
		return nil
	}
}

func (hub *Hub) getRoom(name string) *Room {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rooms[name]
}

func (hub *Hub) getOrCreateRoom(name string) (*Room, bool) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[name]; exists {
		return room, false
	}
	room := newRoom(name, hub.now(), hub.fileLimit, hub.uploadLimit)
	if hub.archivedNames[name] {
		room.seeded = true
	}
	hub.rooms[name] = room
	slog.Debug("room created", "room", name)
	return room, true
}

// snapshotRooms copies the live room pointers, sorted by name, so callers can
// lock each room without holding the registry lock.
func (hub *Hub) snapshotRooms() []*Room {
	hub.mutex.RLock()
	rooms := make([]*Room, 0, len(hub.rooms))
	for _, room := range hub.rooms {
		rooms = append(rooms, room)
	}
	hub.mutex.RUnlock()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].name < rooms[j].name })
	return rooms
}

// seedLocked loads durable history into a freshly created room.
func (hub *Hub) seedLocked(ctx context.Context, room *Room) {
	if room.seeded {
		return
	}
	room.seeded = true
	if hub.messages == nil {
		return
	}
	rows, err := hub.messages.QueryMessages(ctx, room.name)
	if err != nil {
		slog.Error("load room history failed", "room", room.name, "err", err)
		return
	}
	room.messages = append(fromStorageMessages(rows), room.messages...)
}

// Register tracks a connection so it receives room-list snapshots.
func (hub *Hub) Register(client *Client) {
	hub.clientsMu.Lock()
	hub.clients[client] = struct{}{}
	hub.clientsMu.Unlock()
	hub.metrics.IncConn()
	client.enqueue(encodeEvent(Event{Type: TypeRoomUpdate, Rooms: hub.ListRooms()}))
}

// Disconnect removes a connection from its room and from the hub. It is
// safe to call more than once.
func (hub *Hub) Disconnect(client *Client) {
	if room, _ := client.binding(); room != "" {
		hub.Leave(client, room)
	}
	hub.clientsMu.Lock()
	_, ok := hub.clients[client]
	delete(hub.clients, client)
	hub.clientsMu.Unlock()
	if ok {
		hub.metrics.DecConn()
	}
	client.close()
}

// ClientCount returns the number of registered connections.
func (hub *Hub) ClientCount() int {
	hub.clientsMu.RLock()
	defer hub.clientsMu.RUnlock()
	return len(hub.clients)
}

// Join adds client to room under username. A client bound to another room
// leaves it first. The joiner gets the room history, other members get a
// notice and every connection gets a fresh room list.
func (hub *Hub) Join(ctx context.Context, client *Client, username, name string) error {
	username = strings.TrimSpace(username)
	name = strings.TrimSpace(name)
	if username == "" || name == "" {
		return fmt.Errorf("%w: username and room are required", ErrValidation)
	}
	if prev, _ := client.binding(); prev != "" && prev != name {
		hub.Leave(client, prev)
	}
	for {
		room, _ := hub.getOrCreateRoom(name)
		room.mu.Lock()
		if room.archived {
			room.mu.Unlock()
			continue
		}
		hub.seedLocked(ctx, room)
		_, already := room.members[client]
		room.members[client] = username
		client.bind(name, username)
		client.enqueue(encodeEvent(Event{Type: TypeChatHistory, Room: name, Messages: room.historyLocked()}))
		if !already {
			room.broadcastLocked(encodeEvent(systemEvent(name, username+" joined the room", hub.now())), client)
		}
		room.mu.Unlock()
		break
	}
	slog.Debug("client joined", "room", name, "username", username, "client", client.id)
	hub.broadcastRoomList()
	return nil
}

// Leave removes client from the named room. Unknown rooms and non-members are
// ignored.
func (hub *Hub) Leave(client *Client, name string) {
	room := hub.getRoom(name)
	if room == nil {
		client.unbind(name)
		return
	}
	room.mu.Lock()
	username, member := room.members[client]
	if member {
		delete(room.members, client)
		room.broadcastLocked(encodeEvent(systemEvent(name, username+" left the room", hub.now())), nil)
	}
	client.unbind(name)
	room.mu.Unlock()
	if member {
		slog.Debug("client left", "room", name, "username", username, "client", client.id)
		hub.broadcastRoomList()
	}
}

// PostMessage appends text to the client's room and fans it out. It reports
// false without side effects when the client is not in a room or text is
// blank.
func (hub *Hub) PostMessage(client *Client, text string) bool {
	name, _ := client.binding()
	if name == "" || strings.TrimSpace(text) == "" {
		return false
	}
	room := hub.getRoom(name)
	if room == nil {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	username, member := room.members[client]
	if room.archived || !member {
		return false
	}
	msg := Message{Username: username, Text: text, CreatedAt: hub.now()}
	room.messages = append(room.messages, msg)
	room.lastActiveAt = msg.CreatedAt
	if store := hub.messages; store != nil {
		hub.writer.enqueue("insert message", func(ctx context.Context) error {
			return store.InsertMessage(ctx, name, msg.Username, msg.Text, msg.CreatedAt)
		})
	}
	room.broadcastLocked(encodeEvent(chatEvent(name, msg)), nil)
	hub.metrics.IncMessage()
	return true
}

// SubmitUpload stores an upload in a live room, enforcing the per-user
// daily quota, and announces it to the members.
func (hub *Hub) SubmitUpload(ctx context.Context, name, username string, upload FileUpload) (FileRecord, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)
	upload.OriginalName = strings.TrimSpace(upload.OriginalName)
	if name == "" || username == "" || upload.OriginalName == "" {
		return FileRecord{}, fmt.Errorf("%w: room, username and file name are required", ErrValidation)
	}
	room := hub.getRoom(name)
	if room == nil {
		return FileRecord{}, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.archived {
		return FileRecord{}, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	now := hub.now()
	day := quotaDay(now, hub.location)
	if !room.quota.allow(username, day) {
		hub.metrics.IncQuotaRejection()
		return FileRecord{}, fmt.Errorf("%w: %s reached %d uploads today", ErrQuotaExceeded, username, room.quota.limit)
	}
	if hub.blobs == nil {
		return FileRecord{}, fmt.Errorf("%w: no blob store configured", ErrStorage)
	}
	handle, err := hub.blobs.Save(ctx, bytes.NewReader(upload.Data))
	if err != nil {
		return FileRecord{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	room.quota.record(username, day)

	rec := FileRecord{
		ID:           handle,
		OriginalName: upload.OriginalName,
		Uploader:     username,
		MimeType:     detectMimeType(upload.MimeType, upload.Data),
		SizeBytes:    int64(len(upload.Data)),
		UploadedAt:   now,
	}
	for _, old := range room.files.add(rec) {
		hub.deleteBlob(ctx, name, old.ID)
	}
	room.lastActiveAt = now
	room.broadcastLocked(encodeEvent(fileEvent(name, rec)), nil)
	hub.metrics.IncUpload()
	slog.Info("file uploaded", "room", name, "username", username, "file_id", rec.ID, "size", rec.SizeBytes)
	return rec, nil
}

// File looks up an upload record in a live room.
func (hub *Hub) File(name, id string) (FileRecord, bool) {
	room := hub.getRoom(name)
	if room == nil {
		return FileRecord{}, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.archived {
		return FileRecord{}, false
	}
	return room.files.find(id)
}

// Files returns the upload records of a live room, oldest first. It reports
// false when no live room has that name.
func (hub *Hub) Files(name string) ([]FileRecord, bool) {
	room := hub.getRoom(strings.TrimSpace(name))
	if room == nil {
		return nil, false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.archived {
		return nil, false
	}
	return room.files.snapshot(), true
}

func (hub *Hub) deleteBlob(ctx context.Context, room, handle string) {
	if hub.blobs == nil {
		return
	}
	if err := hub.blobs.Delete(context.WithoutCancel(ctx), handle); err != nil {
		slog.Error("blob delete failed", "room", room, "file_id", handle, "err", err)
	}
}

// ListRooms returns every live room with its member count, sorted by name.
func (hub *Hub) ListRooms() []RoomSummary {
	rooms := hub.snapshotRooms()
	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		if !room.archived {
			out = append(out, RoomSummary{Name: room.name, Count: len(room.members)})
		}
		room.mu.Unlock()
	}
	return out
}

func (hub *Hub) broadcastRoomList() {
	payload := encodeEvent(Event{Type: TypeRoomUpdate, Rooms: hub.ListRooms()})
	hub.clientsMu.RLock()
	clients := make([]*Client, 0, len(hub.clients))
	for client := range hub.clients {
		clients = append(clients, client)
	}
	hub.clientsMu.RUnlock()
	for _, client := range clients {
		client.enqueue(payload)
	}
}

// ArchiveRoom archives a live room immediately. It reports false when no
// live room has that name.
func (hub *Hub) ArchiveRoom(ctx context.Context, name string) bool {
	room := hub.getRoom(name)
	if room == nil {
		return false
	}
	room.mu.Lock()
	if room.archived {
		room.mu.Unlock()
		return false
	}
	hub.archiveLocked(ctx, room)
	room.mu.Unlock()
	hub.broadcastRoomList()
	return true
}

// GetArchive returns the archived messages for name, or an empty slice.
func (hub *Hub) GetArchive(name string) []Message {
	return hub.archive.Get(name)
}

// ArchivedRooms lists the names with an archive entry.
func (hub *Hub) ArchivedRooms() []string {
	return hub.archive.Rooms()
}

// archiveLocked moves the room's messages into the archive, deletes its
// blobs, detaches its members and drops it from the registry. The caller
// holds room.mu and broadcasts the new room list afterwards.
func (hub *Hub) archiveLocked(ctx context.Context, room *Room) {
	room.archived = true
	msgs := room.historyLocked()
	hub.archive.Put(room.name, msgs)
	if sink := hub.archiveSink; sink != nil {
		name := room.name
		rows := toStorageMessages(msgs)
		hub.writer.enqueue("save archive", func(ctx context.Context) error {
			return sink.SaveArchive(ctx, name, rows)
		})
	}
	for _, rec := range room.files.drain() {
		hub.deleteBlob(ctx, room.name, rec.ID)
	}

	notice := encodeEvent(systemEvent(room.name, "This room was archived after a week without activity.", hub.now()))
	for client := range room.members {
		client.enqueue(notice)
		client.unbind(room.name)
	}
	room.members = make(map[*Client]string)

	hub.mutex.Lock()
	if hub.rooms[room.name] == room {
		delete(hub.rooms, room.name)
	}
	hub.archivedNames[room.name] = true
	hub.mutex.Unlock()

	hub.metrics.IncArchived()
	slog.Info("room archived", "room", room.name, "messages", len(msgs))
}
