package store

import (
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/linocruz/tindahan-sync/internal/models"
)

// MemoryBackend is an in-memory Backend used by tests and previews.
// It mirrors the key-value backend's semantics, including the serialized
// size measurement, with configurable limits.
type MemoryBackend struct {
	mu       sync.Mutex
	messages map[string]*models.QueuedMessage
	media    map[string]*models.QueuedMediaUpload
	limits   Limits
}

// NewMemoryBackend creates an in-memory backend with the given limits.
func NewMemoryBackend(limits Limits) *MemoryBackend {
	return &MemoryBackend{
		messages: make(map[string]*models.QueuedMessage),
		media:    make(map[string]*models.QueuedMediaUpload),
		limits:   limits,
	}
}

func (b *MemoryBackend) Limits() Limits {
	return b.limits
}

func (b *MemoryBackend) PutMessage(m *models.QueuedMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *m
	b.messages[m.ID] = &cp
	return nil
}

func (b *MemoryBackend) GetMessage(id string) (*models.QueuedMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.messages[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *m
	return &cp, nil
}

func (b *MemoryBackend) ListMessages(status models.MessageStatus) ([]*models.QueuedMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.QueuedMessage
	for _, m := range b.messages {
		if status == "" || m.Status == status {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortMessagesByTimestamp(out)
	return out, nil
}

func (b *MemoryBackend) UpdateMessage(m *models.QueuedMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.messages[m.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *m
	b.messages[m.ID] = &cp
	return nil
}

func (b *MemoryBackend) DeleteMessage(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.messages, id)
	return nil
}

func (b *MemoryBackend) CountMessages(status models.MessageStatus) (int, error) {
	msgs, _ := b.ListMessages(status)
	return len(msgs), nil
}

func (b *MemoryBackend) MessageQueueBytes() (int64, error) {
	msgs, _ := b.ListMessages("")
	data, err := json.Marshal(msgs)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (b *MemoryBackend) ClearMessages() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make(map[string]*models.QueuedMessage)
	return nil
}

func (b *MemoryBackend) PutMedia(m *models.QueuedMediaUpload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *m
	b.media[m.ID] = &cp
	return nil
}

func (b *MemoryBackend) GetMedia(id string) (*models.QueuedMediaUpload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.media[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *m
	return &cp, nil
}

func (b *MemoryBackend) ListMedia(status models.MediaStatus) ([]*models.QueuedMediaUpload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.QueuedMediaUpload
	for _, m := range b.media {
		if status == "" || m.Status == status {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortMediaByTimestamp(out)
	return out, nil
}

func (b *MemoryBackend) ListMediaByMessage(messageID string) ([]*models.QueuedMediaUpload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.QueuedMediaUpload
	for _, m := range b.media {
		if m.MessageID == messageID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortMediaByTimestamp(out)
	return out, nil
}

func (b *MemoryBackend) UpdateMedia(m *models.QueuedMediaUpload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.media[m.ID]
	if !ok {
		return sql.ErrNoRows
	}
	cp := *m
	if len(cp.Payload) == 0 {
		cp.Payload = existing.Payload
	}
	b.media[m.ID] = &cp
	return nil
}

func (b *MemoryBackend) DeleteMedia(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.media, id)
	return nil
}

func (b *MemoryBackend) CountMedia(status models.MediaStatus) (int, error) {
	media, _ := b.ListMedia(status)
	return len(media), nil
}

func (b *MemoryBackend) ClearMedia() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.media = make(map[string]*models.QueuedMediaUpload)
	return nil
}

func (b *MemoryBackend) LoadBlob(m *models.QueuedMediaUpload) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.media[m.ID]; ok && len(existing.Payload) > 0 {
		return existing.Payload, nil
	}
	return m.Payload, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
