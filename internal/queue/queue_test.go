package queue

import (
	"strconv"
	"strings"
	"testing"
	"time"

	apperrors "github.com/linocruz/tindahan-sync/internal/errors"
	"github.com/linocruz/tindahan-sync/internal/models"
	"github.com/linocruz/tindahan-sync/internal/store"
)

func newTestQueue(limits store.Limits) (*MessageQueue, *store.MemoryBackend) {
	backend := store.NewMemoryBackend(limits)
	return NewMessageQueue(backend), backend
}

func defaultLimits() store.Limits {
	return store.Limits{MaxMessages: 1000, MaxQueueBytes: 0, EvictKeep: 400}
}

func TestQueueMessageAssignsFields(t *testing.T) {
	q, backend := newTestQueue(defaultLimits())

	id, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: "hello"})
	if err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	m, err := backend.GetMessage(id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if m.Status != models.MessageStatusPending {
		t.Errorf("expected pending status, got %s", m.Status)
	}
	if m.Type != models.MessageTypeText {
		t.Errorf("expected default text type, got %s", m.Type)
	}
	if m.Timestamp == 0 {
		t.Error("expected a timestamp")
	}
	if m.RetryCount != 0 {
		t.Errorf("expected zero retry count, got %d", m.RetryCount)
	}
}

func TestQueueMessageRequiresConversation(t *testing.T) {
	q, _ := newTestQueue(defaultLimits())

	_, err := q.QueueMessage(Draft{Content: "orphan"})
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPendingMessagesAreFIFO(t *testing.T) {
	q, _ := newTestQueue(defaultLimits())

	// Back-to-back enqueues must still come out in insertion order.
	var ids []string
	for i := 0; i < 20; i++ {
		id, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: strconv.Itoa(i)})
		if err != nil {
			t.Fatalf("QueueMessage: %v", err)
		}
		ids = append(ids, id)
	}

	pending, err := q.GetPendingMessages()
	if err != nil {
		t.Fatalf("GetPendingMessages: %v", err)
	}
	if len(pending) != 20 {
		t.Fatalf("expected 20 pending, got %d", len(pending))
	}
	var prev int64
	for i, m := range pending {
		if m.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], m.ID)
		}
		if m.Timestamp <= prev {
			t.Errorf("timestamps not strictly increasing at position %d", i)
		}
		prev = m.Timestamp
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	q, backend := newTestQueue(defaultLimits())

	id, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: "hi"})
	if err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}

	if err := q.UpdateMessageStatus(id, models.MessageStatusSyncing, ""); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}

	// Falling back out of syncing counts as a failed attempt.
	if err := q.UpdateMessageStatus(id, models.MessageStatusPending, ""); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	m, _ := backend.GetMessage(id)
	if m.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", m.RetryCount)
	}
	if m.Error != "" {
		t.Errorf("error should be clear outside failed, got %q", m.Error)
	}

	if err := q.UpdateMessageStatus(id, models.MessageStatusSyncing, ""); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	if err := q.UpdateMessageStatus(id, models.MessageStatusFailed, "server rejected"); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	m, _ = backend.GetMessage(id)
	if m.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", m.RetryCount)
	}
	if m.Error != "server rejected" {
		t.Errorf("expected error recorded, got %q", m.Error)
	}

	// Idempotent repeat of the same status.
	if err := q.UpdateMessageStatus(id, models.MessageStatusFailed, "server rejected"); err != nil {
		t.Fatalf("UpdateMessageStatus repeat: %v", err)
	}
	m, _ = backend.GetMessage(id)
	if m.RetryCount != 2 {
		t.Errorf("idempotent update changed retry count: %d", m.RetryCount)
	}
}

func TestUpdateMessageStatusNotFound(t *testing.T) {
	q, _ := newTestQueue(defaultLimits())
	err := q.UpdateMessageStatus("missing", models.MessageStatusSyncing, "")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAttachMediaURLs(t *testing.T) {
	q, backend := newTestQueue(defaultLimits())

	id, err := q.QueueMessage(Draft{ConversationID: "conv-1", Type: models.MessageTypeImage})
	if err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}

	urls := []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"}
	if err := q.AttachMediaURLs(id, urls); err != nil {
		t.Fatalf("AttachMediaURLs: %v", err)
	}
	m, _ := backend.GetMessage(id)
	if len(m.MediaURLs) != 2 || m.MediaURLs[0] != urls[0] {
		t.Errorf("media urls not attached: %v", m.MediaURLs)
	}
}

func TestDeleteAndClear(t *testing.T) {
	q, _ := newTestQueue(defaultLimits())

	id, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: "bye"})
	if err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}
	if err := q.DeleteMessage(id); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	count, _ := q.GetPendingCount()
	if count != 0 {
		t.Errorf("expected empty queue after delete, got %d", count)
	}

	for i := 0; i < 5; i++ {
		if _, err := q.QueueMessage(Draft{ConversationID: "conv-1"}); err != nil {
			t.Fatalf("QueueMessage: %v", err)
		}
	}
	if err := q.ClearQueue(); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	count, _ = q.GetPendingCount()
	if count != 0 {
		t.Errorf("expected empty queue after clear, got %d", count)
	}
}

func TestEvictionAtCapacityKeepsNewest(t *testing.T) {
	limits := store.Limits{MaxMessages: 10, MaxQueueBytes: 0, EvictKeep: 5}
	q, _ := newTestQueue(limits)

	var ids []string
	for i := 0; i < 10; i++ {
		id, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: strconv.Itoa(i)})
		if err != nil {
			t.Fatalf("QueueMessage: %v", err)
		}
		ids = append(ids, id)
	}

	// The 11th enqueue trips the quota: oldest records evicted down to
	// the keep mark, then the new record lands.
	newest, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: "latest"})
	if err != nil {
		t.Fatalf("QueueMessage at capacity: %v", err)
	}

	pending, err := q.GetPendingMessages()
	if err != nil {
		t.Fatalf("GetPendingMessages: %v", err)
	}
	if len(pending) != 6 {
		t.Fatalf("expected 5 kept + 1 new, got %d", len(pending))
	}
	for i, want := range append(ids[5:], newest) {
		if pending[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, pending[i].ID)
		}
	}
}

func TestEvictionDropsExpiredFirst(t *testing.T) {
	limits := store.Limits{MaxMessages: 10, MaxQueueBytes: 0, EvictKeep: 5}
	backend := store.NewMemoryBackend(limits)
	q := NewMessageQueue(backend)

	// Seed stale records directly; the age pass should clear all of them
	// without touching the fresh ones.
	stale := time.Now().Add(-8 * 24 * time.Hour).UnixNano()
	for i := 0; i < 6; i++ {
		m := &models.QueuedMessage{
			ID:             "old-" + strconv.Itoa(i),
			ConversationID: "conv-1",
			Type:           models.MessageTypeText,
			Timestamp:      stale + int64(i),
			Status:         models.MessageStatusPending,
		}
		if err := backend.PutMessage(m); err != nil {
			t.Fatalf("PutMessage: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		if _, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: "fresh"}); err != nil {
			t.Fatalf("QueueMessage: %v", err)
		}
	}

	// Quota trips; the age pass alone resolves it.
	if _, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: "trigger"}); err != nil {
		t.Fatalf("QueueMessage: %v", err)
	}

	pending, err := q.GetPendingMessages()
	if err != nil {
		t.Fatalf("GetPendingMessages: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("expected 4 fresh + 1 trigger, got %d", len(pending))
	}
	for _, m := range pending {
		if m.Timestamp < time.Now().Add(-evictionMaxAge).UnixNano() {
			t.Errorf("expired record survived eviction: %s", m.ID)
		}
	}
}

func TestEvictionOnByteCeiling(t *testing.T) {
	// Count cap far away; the serialized-size ceiling is the trigger.
	limits := store.Limits{MaxMessages: 1000, MaxQueueBytes: 2048, EvictKeep: 3}
	q, _ := newTestQueue(limits)

	payload := strings.Repeat("x", 800)
	var ids []string
	for i := 0; i < 12; i++ {
		id, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: payload})
		if err != nil {
			t.Fatalf("QueueMessage %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	pending, err := q.GetPendingMessages()
	if err != nil {
		t.Fatalf("GetPendingMessages: %v", err)
	}
	if len(pending) >= 12 {
		t.Fatal("byte ceiling never triggered eviction")
	}
	if len(pending) != limits.EvictKeep+1 {
		t.Fatalf("expected %d records after eviction, got %d", limits.EvictKeep+1, len(pending))
	}
	// The survivors are the newest records, oldest-first order intact.
	for i, want := range ids[len(ids)-len(pending):] {
		if pending[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, pending[i].ID)
		}
	}
}

func TestStorageStats(t *testing.T) {
	limits := store.Limits{MaxMessages: 100, MaxQueueBytes: 8 << 20, EvictKeep: 80}
	q, _ := newTestQueue(limits)

	for i := 0; i < 25; i++ {
		if _, err := q.QueueMessage(Draft{ConversationID: "conv-1", Content: "x"}); err != nil {
			t.Fatalf("QueueMessage: %v", err)
		}
	}

	stats, err := q.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats: %v", err)
	}
	if stats.Count != 25 {
		t.Errorf("expected count 25, got %d", stats.Count)
	}
	if stats.MaxSize != 100 {
		t.Errorf("expected max size 100, got %d", stats.MaxSize)
	}
	if stats.PercentUsed != 25 {
		t.Errorf("expected 25%% used, got %f", stats.PercentUsed)
	}
	if stats.SizeInMB <= 0 {
		t.Errorf("expected a positive size, got %f", stats.SizeInMB)
	}
}
