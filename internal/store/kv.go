package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/linocruz/tindahan-sync/internal/models"
)

// Fixed keys under which each queue is kept as one serialized array.
const (
	kvBucket      = "queues"
	kvMessagesKey = "offline_message_queue"
	kvMediaKey    = "offline_media_queue"
)

// KVBackend is the key-value store backend for native targets. Each queue
// is a single JSON array read-modify-written wholesale on every mutation,
// which is acceptable at the quota-bounded scale but a known bottleneck.
// Media payloads are spilled to discrete files under <dataDir>/media
// because individual values in the preference store cap far below the
// 100 MB attachment ceiling; records keep only a LocalPath reference.
type KVBackend struct {
	db      *bolt.DB
	blobDir string
}

// OpenKV opens the bbolt-backed queue store under dataDir.
func OpenKV(dataDir string) (*KVBackend, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	blobDir := filepath.Join(dataDir, "media")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, "offline_queue.db"), 0600,
		&bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(kvBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &KVBackend{db: db, blobDir: blobDir}, nil
}

// Limits returns the key-value quota configuration: a lower record cap
// plus a serialized-size ceiling.
func (b *KVBackend) Limits() Limits {
	return Limits{MaxMessages: 500, MaxQueueBytes: 8 << 20, EvictKeep: 400}
}

// =====================================================
// Message operations
// =====================================================

func (b *KVBackend) PutMessage(m *models.QueuedMessage) error {
	return b.updateMessages(func(msgs []*models.QueuedMessage) ([]*models.QueuedMessage, error) {
		cp := *m
		return append(msgs, &cp), nil
	})
}

func (b *KVBackend) GetMessage(id string) (*models.QueuedMessage, error) {
	msgs, err := b.readMessages()
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (b *KVBackend) ListMessages(status models.MessageStatus) ([]*models.QueuedMessage, error) {
	msgs, err := b.readMessages()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return msgs, nil
	}
	var out []*models.QueuedMessage
	for _, m := range msgs {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *KVBackend) UpdateMessage(m *models.QueuedMessage) error {
	return b.updateMessages(func(msgs []*models.QueuedMessage) ([]*models.QueuedMessage, error) {
		for i, existing := range msgs {
			if existing.ID == m.ID {
				cp := *m
				msgs[i] = &cp
				return msgs, nil
			}
		}
		return nil, sql.ErrNoRows
	})
}

func (b *KVBackend) DeleteMessage(id string) error {
	return b.updateMessages(func(msgs []*models.QueuedMessage) ([]*models.QueuedMessage, error) {
		out := msgs[:0]
		for _, m := range msgs {
			if m.ID != id {
				out = append(out, m)
			}
		}
		return out, nil
	})
}

func (b *KVBackend) CountMessages(status models.MessageStatus) (int, error) {
	msgs, err := b.ListMessages(status)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// MessageQueueBytes reports the serialized size of the whole message
// array, the same bytes the store pays to persist it.
func (b *KVBackend) MessageQueueBytes() (int64, error) {
	var size int64
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(kvBucket)).Get([]byte(kvMessagesKey))
		size = int64(len(data))
		return nil
	})
	return size, err
}

func (b *KVBackend) ClearMessages() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kvBucket)).Delete([]byte(kvMessagesKey))
	})
}

func (b *KVBackend) readMessages() ([]*models.QueuedMessage, error) {
	var msgs []*models.QueuedMessage
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(kvBucket)).Get([]byte(kvMessagesKey))
		if len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, &msgs)
	})
	if err != nil {
		return nil, err
	}
	sortMessagesByTimestamp(msgs)
	return msgs, nil
}

// updateMessages runs a read-modify-write cycle on the serialized array
// inside a single transaction.
func (b *KVBackend) updateMessages(mutate func([]*models.QueuedMessage) ([]*models.QueuedMessage, error)) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))

		var msgs []*models.QueuedMessage
		if data := bucket.Get([]byte(kvMessagesKey)); len(data) > 0 {
			if err := json.Unmarshal(data, &msgs); err != nil {
				return fmt.Errorf("failed to decode message queue: %w", err)
			}
		}

		msgs, err := mutate(msgs)
		if err != nil {
			return err
		}
		sortMessagesByTimestamp(msgs)

		data, err := json.Marshal(msgs)
		if err != nil {
			return fmt.Errorf("failed to encode message queue: %w", err)
		}
		return bucket.Put([]byte(kvMessagesKey), data)
	})
}

// =====================================================
// Media operations
// =====================================================

// PutMedia spills the payload to a file and persists only the path
// reference in the serialized record.
func (b *KVBackend) PutMedia(m *models.QueuedMediaUpload) error {
	cp := *m
	if len(cp.Payload) > 0 {
		path := filepath.Join(b.blobDir, cp.ID)
		if err := os.WriteFile(path, cp.Payload, 0600); err != nil {
			return fmt.Errorf("failed to write media payload: %w", err)
		}
		cp.LocalPath = path
		cp.Payload = nil
		m.LocalPath = path
	}
	return b.updateMedia(func(media []*models.QueuedMediaUpload) ([]*models.QueuedMediaUpload, error) {
		return append(media, &cp), nil
	})
}

func (b *KVBackend) GetMedia(id string) (*models.QueuedMediaUpload, error) {
	media, err := b.readMedia()
	if err != nil {
		return nil, err
	}
	for _, m := range media {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (b *KVBackend) ListMedia(status models.MediaStatus) ([]*models.QueuedMediaUpload, error) {
	media, err := b.readMedia()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return media, nil
	}
	var out []*models.QueuedMediaUpload
	for _, m := range media {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *KVBackend) ListMediaByMessage(messageID string) ([]*models.QueuedMediaUpload, error) {
	media, err := b.readMedia()
	if err != nil {
		return nil, err
	}
	var out []*models.QueuedMediaUpload
	for _, m := range media {
		if m.MessageID == messageID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *KVBackend) UpdateMedia(m *models.QueuedMediaUpload) error {
	return b.updateMedia(func(media []*models.QueuedMediaUpload) ([]*models.QueuedMediaUpload, error) {
		for i, existing := range media {
			if existing.ID == m.ID {
				cp := *m
				cp.Payload = nil
				media[i] = &cp
				return media, nil
			}
		}
		return nil, sql.ErrNoRows
	})
}

func (b *KVBackend) DeleteMedia(id string) error {
	err := b.updateMedia(func(media []*models.QueuedMediaUpload) ([]*models.QueuedMediaUpload, error) {
		out := media[:0]
		for _, m := range media {
			if m.ID != id {
				out = append(out, m)
			}
		}
		return out, nil
	})
	if err != nil {
		return err
	}
	// Best-effort blob cleanup; a missing file is fine.
	os.Remove(filepath.Join(b.blobDir, id))
	return nil
}

func (b *KVBackend) CountMedia(status models.MediaStatus) (int, error) {
	media, err := b.ListMedia(status)
	if err != nil {
		return 0, err
	}
	return len(media), nil
}

// ClearMedia drops the queue and purges all spilled payload files.
func (b *KVBackend) ClearMedia() error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(kvBucket)).Delete([]byte(kvMediaKey))
	})
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(b.blobDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		os.Remove(filepath.Join(b.blobDir, entry.Name()))
	}
	return nil
}

// LoadBlob reads the payload back from the spilled file.
func (b *KVBackend) LoadBlob(m *models.QueuedMediaUpload) ([]byte, error) {
	if len(m.Payload) > 0 {
		return m.Payload, nil
	}
	if m.LocalPath == "" {
		return nil, fmt.Errorf("media %s has no payload reference", m.ID)
	}
	return os.ReadFile(m.LocalPath)
}

func (b *KVBackend) readMedia() ([]*models.QueuedMediaUpload, error) {
	var media []*models.QueuedMediaUpload
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(kvBucket)).Get([]byte(kvMediaKey))
		if len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, &media)
	})
	if err != nil {
		return nil, err
	}
	sortMediaByTimestamp(media)
	return media, nil
}

func (b *KVBackend) updateMedia(mutate func([]*models.QueuedMediaUpload) ([]*models.QueuedMediaUpload, error)) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))

		var media []*models.QueuedMediaUpload
		if data := bucket.Get([]byte(kvMediaKey)); len(data) > 0 {
			if err := json.Unmarshal(data, &media); err != nil {
				return fmt.Errorf("failed to decode media queue: %w", err)
			}
		}

		media, err := mutate(media)
		if err != nil {
			return err
		}
		sortMediaByTimestamp(media)

		data, err := json.Marshal(media)
		if err != nil {
			return fmt.Errorf("failed to encode media queue: %w", err)
		}
		return bucket.Put([]byte(kvMediaKey), data)
	})
}

// Close closes the underlying bbolt database.
func (b *KVBackend) Close() error {
	return b.db.Close()
}
