package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	sendBufferSize  = 256
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 5
)

// Client is one websocket connection. The hub addresses it through its send
// queue; the room binding is what the connection last joined.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	userID   int64
	authName string

	mu       sync.Mutex
	closed   bool
	room     string
	username string
}

func newClient(conn *websocket.Conn, userID int64, authName string) *Client {
	return &Client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		authName: authName,
	}
}

// enqueue hands payload to the writer without blocking. A client that cannot
// keep up has its queue closed, which ends its connection.
func (client *Client) enqueue(payload []byte) bool {
	if payload == nil {
		return false
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return false
	}
	select {
	case client.send <- payload:
		return true
	default:
		slog.Warn("client send buffer full, dropping connection", "client", client.id, "username", client.username)
		client.closed = true
		close(client.send)
		return false
	}
}

func (client *Client) close() {
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

func (client *Client) binding() (string, string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.room, client.username
}

func (client *Client) bind(room, username string) {
	client.mu.Lock()
	client.room = room
	client.username = username
	client.mu.Unlock()
}

// unbind clears the binding if it still points at room.
func (client *Client) unbind(room string) {
	client.mu.Lock()
	if client.room == room {
		client.room = ""
	}
	client.mu.Unlock()
}

func (client *Client) readPump(s *Server) {
	defer func() {
		s.hub.Disconnect(client)
		s.eventLimiter.Forget(client.id)
		_ = client.conn.Close()
		if client.authName != "" {
			s.presence.Disconnected(client.authName)
		}
	}()
	client.conn.SetReadLimit(s.readLimit())
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "client", client.id, "err", err)
			}
			break
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			client.enqueue(encodeEvent(errorEvent(fmt.Errorf("%w: malformed event", ErrValidation))))
			continue
		}
		s.dispatch(client, event)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound event to the hub.
func (s *Server) dispatch(client *Client, event Event) {
	ctx := context.Background()
	now := time.Now()
	switch event.Type {
	case TypeJoinRoom:
		username := event.Username
		if client.authName != "" {
			username = client.authName
		}
		if err := s.hub.Join(ctx, client, username, event.Room); err != nil {
			client.enqueue(encodeEvent(errorEvent(err)))
		}
	case TypeLeaveRoom:
		room := strings.TrimSpace(event.Room)
		if room == "" {
			room, _ = client.binding()
		}
		if room != "" {
			s.hub.Leave(client, room)
		}
	case TypeChatMessage:
		if !s.eventLimiter.AllowAt(client.id, now) {
			client.notifyRateLimit(now)
			return
		}
		if len(event.Text) > maxMsgSize {
			client.enqueue(encodeEvent(errorEvent(fmt.Errorf("%w: message exceeds %d bytes", ErrValidation, maxMsgSize))))
			return
		}
		s.hub.PostMessage(client, event.Text)
	case TypeUploadFile:
		if !s.eventLimiter.AllowAt(client.id, now) {
			client.notifyRateLimit(now)
			return
		}
		room, username := client.binding()
		if strings.TrimSpace(event.Room) != "" {
			room = event.Room
		}
		if client.authName != "" {
			username = client.authName
		} else if strings.TrimSpace(event.Username) != "" {
			username = event.Username
		}
		if int64(len(event.Data)) > s.maxFileSize {
			client.enqueue(encodeEvent(errorEvent(fmt.Errorf("%w: file exceeds %d bytes", ErrValidation, s.maxFileSize))))
			return
		}
		_, err := s.hub.SubmitUpload(ctx, room, username, FileUpload{
			OriginalName: sanitizeFilename(event.OriginalName),
			MimeType:     event.MimeType,
			Data:         event.Data,
		})
		if err != nil {
			if !errors.Is(err, ErrQuotaExceeded) && !errors.Is(err, ErrValidation) {
				slog.Error("upload failed", "room", room, "username", username, "err", err)
			}
			client.enqueue(encodeEvent(errorEvent(err)))
		}
	default:
		client.enqueue(encodeEvent(errorEvent(fmt.Errorf("%w: unknown event type %q", ErrValidation, event.Type))))
	}
}

func (client *Client) notifyRateLimit(now time.Time) {
	room, _ := client.binding()
	client.enqueue(encodeEvent(systemEvent(room, "You're sending messages too quickly. Please wait a moment and try again.", now)))
}
