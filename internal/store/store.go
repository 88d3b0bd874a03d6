// Package store provides durable storage backends for the offline queues.
//
// Two production backends exist: a structured SQLite store for targets
// with a real database, and a bbolt key-value store that keeps each queue
// as a single serialized array and spills media payloads to the
// filesystem (value-size ceilings rule out inline blobs there). An
// in-memory backend implements the same interface for tests.
package store

import (
	"sort"

	"github.com/linocruz/tindahan-sync/internal/models"
)

// Limits describes a backend's quota configuration.
type Limits struct {
	// MaxMessages is the message count cap that triggers eviction.
	MaxMessages int
	// MaxQueueBytes is the serialized-size ceiling for the message queue.
	// Zero means the backend is not byte-limited.
	MaxQueueBytes int64
	// EvictKeep is the number of newest records kept when the age-based
	// eviction pass is insufficient.
	EvictKeep int
}

// Backend is the durable record store shared by the message and media queues.
// List results are always ordered by Timestamp ascending; an empty status
// filter selects all records.
type Backend interface {
	// Message queue records
	PutMessage(m *models.QueuedMessage) error
	GetMessage(id string) (*models.QueuedMessage, error)
	ListMessages(status models.MessageStatus) ([]*models.QueuedMessage, error)
	UpdateMessage(m *models.QueuedMessage) error
	DeleteMessage(id string) error
	CountMessages(status models.MessageStatus) (int, error)
	// MessageQueueBytes reports the serialized size of the message queue.
	// Backends where size cannot be cheaply computed report 0.
	MessageQueueBytes() (int64, error)
	ClearMessages() error

	// Media queue records
	PutMedia(m *models.QueuedMediaUpload) error
	GetMedia(id string) (*models.QueuedMediaUpload, error)
	ListMedia(status models.MediaStatus) ([]*models.QueuedMediaUpload, error)
	ListMediaByMessage(messageID string) ([]*models.QueuedMediaUpload, error)
	UpdateMedia(m *models.QueuedMediaUpload) error
	DeleteMedia(id string) error
	CountMedia(status models.MediaStatus) (int, error)
	ClearMedia() error

	// LoadBlob returns the payload bytes for a media record, wherever the
	// backend keeps them (inline column, spilled file, or memory).
	LoadBlob(m *models.QueuedMediaUpload) ([]byte, error)

	Limits() Limits
	Close() error
}

func sortMessagesByTimestamp(msgs []*models.QueuedMessage) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
}

func sortMediaByTimestamp(media []*models.QueuedMediaUpload) {
	sort.Slice(media, func(i, j int) bool { return media[i].Timestamp < media[j].Timestamp })
}
