package internal

import (
	"encoding/json"
	"time"
)

// Event types exchanged over the websocket.
const (
	TypeJoinRoom      = "joinRoom"
	TypeLeaveRoom     = "leaveRoom"
	TypeChatMessage   = "chatMessage"
	TypeUploadFile    = "uploadFile"
	TypeFileMessage   = "fileMessage"
	TypeRoomUpdate    = "roomUpdate"
	TypeSystemMessage = "systemMessage"
	TypeChatHistory   = "chatHistory"
	TypeError         = "error"
)

// systemUser is the display name clients use for server notices.
const systemUser = "system"

// Event is the JSON envelope both the client and the server exchange.
type Event struct {
	Type         string        `json:"type"`
	Room         string        `json:"room,omitempty"`
	Username     string        `json:"username,omitempty"`
	Text         string        `json:"text,omitempty"`
	Time         int64         `json:"time,omitempty"`
	FileID       string        `json:"file_id,omitempty"`
	OriginalName string        `json:"original_name,omitempty"`
	MimeType     string        `json:"mime_type,omitempty"`
	Size         int64         `json:"size,omitempty"`
	Data         []byte        `json:"data,omitempty"`
	Rooms        []RoomSummary `json:"rooms"`
	Messages     []Message     `json:"messages"`
	Error        string        `json:"error,omitempty"`
}

// Message is one accepted chat line. It is never modified after creation.
type Message struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// FileRecord describes an upload kept in a room's file history.
type FileRecord struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	Uploader     string    `json:"uploader"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// RoomSummary is one entry of a room-list snapshot.
type RoomSummary struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func chatEvent(room string, msg Message) Event {
	return Event{
		Type:     TypeChatMessage,
		Room:     room,
		Username: msg.Username,
		Text:     msg.Text,
		Time:     msg.CreatedAt.UnixMilli(),
	}
}

func fileEvent(room string, rec FileRecord) Event {
	return Event{
		Type:         TypeFileMessage,
		Room:         room,
		Username:     rec.Uploader,
		FileID:       rec.ID,
		OriginalName: rec.OriginalName,
		MimeType:     rec.MimeType,
		Size:         rec.SizeBytes,
		Time:         rec.UploadedAt.UnixMilli(),
	}
}

func systemEvent(room, text string, now time.Time) Event {
	return Event{
		Type:     TypeSystemMessage,
		Room:     room,
		Username: systemUser,
		Text:     text,
		Time:     now.UnixMilli(),
	}
}

func errorEvent(err error) Event {
	return Event{Type: TypeError, Error: err.Error()}
}

// encodeEvent marshals an event once so fan-out can share the payload.
func encodeEvent(event Event) []byte {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	return payload
}
