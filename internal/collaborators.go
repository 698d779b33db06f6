package internal

import (
	"context"
	"io"
	"time"

	"roomchat/internal/storage"
)

// MessageStore is the durable message log. A nil MessageStore keeps history
// in process memory only.
type MessageStore interface {
	InsertMessage(ctx context.Context, room, username, text string, createdAt time.Time) error
	QueryMessages(ctx context.Context, room string) ([]storage.Message, error)
}

// BlobStore keeps uploaded file bytes behind opaque handles.
type BlobStore interface {
	Save(ctx context.Context, r io.Reader) (string, error)
	Delete(ctx context.Context, handle string) error
}

// ArchiveSink mirrors archive snapshots into durable storage.
type ArchiveSink interface {
	SaveArchive(ctx context.Context, room string, messages []storage.Message) error
	LoadArchives(ctx context.Context) (map[string][]storage.Message, error)
}

func toStorageMessages(msgs []Message) []storage.Message {
	out := make([]storage.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, storage.Message{Username: msg.Username, Text: msg.Text, CreatedAt: msg.CreatedAt})
	}
	return out
}

func fromStorageMessages(rows []storage.Message) []Message {
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, Message{Username: row.Username, Text: row.Text, CreatedAt: row.CreatedAt})
	}
	return out
}
