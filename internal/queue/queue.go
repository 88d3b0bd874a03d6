// Package queue provides the durable offline message queue.
//
// Records are FIFO by enqueue timestamp, status-tracked, and bounded by
// the storage backend's quota. Enqueue never blocks on network state.
package queue

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	apperrors "github.com/linocruz/tindahan-sync/internal/errors"
	"github.com/linocruz/tindahan-sync/internal/logging"
	"github.com/linocruz/tindahan-sync/internal/metrics"
	"github.com/linocruz/tindahan-sync/internal/models"
	"github.com/linocruz/tindahan-sync/internal/store"
	"github.com/linocruz/tindahan-sync/internal/uuid"
)

// evictionMaxAge is the age cutoff for the first eviction pass.
const evictionMaxAge = 7 * 24 * time.Hour

// Draft is the caller-supplied part of a message; the queue assigns
// everything else at enqueue time.
type Draft struct {
	ConversationID string
	Content        string
	Type           models.MessageType
	LinkPreview    *models.LinkPreview
}

// Stats reports queue storage usage for the UI layer.
type Stats struct {
	Count       int     `json:"count"`
	SizeInMB    float64 `json:"size_in_mb"` // 0 where size is not cheaply computable
	PercentUsed float64 `json:"percent_used"`
	MaxSize     int     `json:"max_size"`
}

// MessageQueue is the durable, ordered, quota-bounded holding area for
// outbound messages. One instance per process, owned by the composition
// root. Mutations are serialized by an internal mutex.
type MessageQueue struct {
	backend store.Backend

	mu     sync.Mutex
	lastTS int64
}

// NewMessageQueue creates a MessageQueue over the given backend.
func NewMessageQueue(backend store.Backend) *MessageQueue {
	return &MessageQueue{backend: backend}
}

// QueueMessage assigns an id and timestamp, runs quota enforcement, and
// persists the record with status pending. It completes purely against
// local storage and returns the id immediately, even while offline.
func (q *MessageQueue) QueueMessage(d Draft) (string, error) {
	if d.ConversationID == "" {
		return "", apperrors.New(apperrors.ErrValidation, "conversation id is required")
	}
	if d.Type == "" {
		d.Type = models.MessageTypeText
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.enforceQuota()

	m := &models.QueuedMessage{
		ID:             uuid.New(),
		ConversationID: d.ConversationID,
		Content:        d.Content,
		Type:           d.Type,
		LinkPreview:    d.LinkPreview,
		Timestamp:      q.nextTimestamp(),
		RetryCount:     0,
		Status:         models.MessageStatusPending,
	}

	if err := q.backend.PutMessage(m); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "failed to enqueue message", err)
	}

	metrics.MessagesQueued.Inc()
	q.updatePendingGauge()

	logging.Debug("message enqueued", map[string]interface{}{
		"message_id":      m.ID,
		"conversation_id": m.ConversationID,
		"type":            string(m.Type),
	})
	return m.ID, nil
}

// nextTimestamp returns a strictly increasing enqueue timestamp so the
// FIFO ordering contract is exact even for back-to-back enqueues.
func (q *MessageQueue) nextTimestamp() int64 {
	now := time.Now().UnixNano()
	if now <= q.lastTS {
		now = q.lastTS + 1
	}
	q.lastTS = now
	return now
}

// GetPendingMessages returns all pending records sorted ascending by
// timestamp. This ordering is the delivery contract.
func (q *MessageQueue) GetPendingMessages() ([]*models.QueuedMessage, error) {
	return q.backend.ListMessages(models.MessageStatusPending)
}

// GetPendingCount returns the number of pending records.
func (q *MessageQueue) GetPendingCount() (int, error) {
	return q.backend.CountMessages(models.MessageStatusPending)
}

// UpdateMessageStatus performs an idempotent partial status update. The
// error argument is recorded only for failed status. A transition out of
// syncing into pending or failed counts as a failed transmission attempt
// and increments the retry counter.
func (q *MessageQueue) UpdateMessageStatus(id string, status models.MessageStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.backend.GetMessage(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrNotFound, "message not found: "+id)
		}
		return apperrors.Wrap(apperrors.ErrStorage, "failed to load message", err)
	}

	if m.Status == models.MessageStatusSyncing && status != models.MessageStatusSyncing {
		m.RetryCount++
	}
	m.Status = status
	if status == models.MessageStatusFailed {
		m.Error = errMsg
	} else {
		m.Error = ""
	}

	if err := q.backend.UpdateMessage(m); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to update message status", err)
	}
	q.updatePendingGauge()
	return nil
}

// AttachMediaURLs patches a message's permanent attachment URLs once the
// media queue has uploaded them.
func (q *MessageQueue) AttachMediaURLs(id string, urls []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.backend.GetMessage(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrNotFound, "message not found: "+id)
		}
		return apperrors.Wrap(apperrors.ErrStorage, "failed to load message", err)
	}

	m.MediaURLs = urls
	if err := q.backend.UpdateMessage(m); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to attach media urls", err)
	}
	return nil
}

// DeleteMessage removes a record; successful transmission is a delete,
// not a status change.
func (q *MessageQueue) DeleteMessage(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.backend.DeleteMessage(id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete message", err)
	}
	q.updatePendingGauge()
	return nil
}

// ClearQueue removes all records. Used on sign-out.
func (q *MessageQueue) ClearQueue() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.backend.ClearMessages(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to clear message queue", err)
	}
	metrics.MessagesPending.Set(0)
	logging.Info("message queue cleared")
	return nil
}

// GetStorageStats reports usage against the backend's quota. SizeInMB is
// 0 on backends where serialized size is not cheaply computable.
func (q *MessageQueue) GetStorageStats() (Stats, error) {
	count, err := q.backend.CountMessages("")
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.ErrStorage, "failed to count messages", err)
	}
	bytes, err := q.backend.MessageQueueBytes()
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.ErrStorage, "failed to measure queue size", err)
	}

	limits := q.backend.Limits()
	stats := Stats{
		Count:    count,
		SizeInMB: float64(bytes) / (1 << 20),
		MaxSize:  limits.MaxMessages,
	}
	if limits.MaxMessages > 0 {
		stats.PercentUsed = float64(count) / float64(limits.MaxMessages) * 100
	}
	return stats, nil
}

// enforceQuota runs before every enqueue. Quota write failures are
// logged and skipped best-effort; they never crash the caller.
func (q *MessageQueue) enforceQuota() {
	limits := q.backend.Limits()

	count, err := q.backend.CountMessages(models.MessageStatusPending)
	if err != nil {
		logging.Error("quota check failed", err)
		return
	}

	overBytes := false
	if limits.MaxQueueBytes > 0 {
		bytes, err := q.backend.MessageQueueBytes()
		if err != nil {
			logging.Error("quota size check failed", err)
		} else {
			overBytes = bytes > limits.MaxQueueBytes
		}
	}

	if count < limits.MaxMessages && !overBytes {
		return
	}

	q.evict(limits)
}

// evict drops every record older than the age cutoff, then if the queue
// is still at capacity keeps only the newest records. This is a
// deliberate best-effort policy: bounded storage wins over an unbounded
// backlog, and queued-but-never-sent messages can be silently dropped.
func (q *MessageQueue) evict(limits store.Limits) {
	msgs, err := q.backend.ListMessages("")
	if err != nil {
		logging.Error("eviction listing failed", err)
		return
	}

	cutoff := time.Now().Add(-evictionMaxAge).UnixNano()
	var kept []*models.QueuedMessage
	evicted := 0
	for _, m := range msgs {
		if m.Timestamp < cutoff {
			if err := q.backend.DeleteMessage(m.ID); err != nil {
				logging.Error("eviction delete failed", err, map[string]interface{}{"message_id": m.ID})
				kept = append(kept, m)
				continue
			}
			metrics.MessagesEvicted.WithLabelValues("age").Inc()
			evicted++
			continue
		}
		kept = append(kept, m)
	}

	// Age alone was insufficient: evict oldest-first down to the keep mark.
	overBytes := false
	if limits.MaxQueueBytes > 0 && len(kept) > limits.EvictKeep {
		if bytes, err := q.backend.MessageQueueBytes(); err == nil {
			overBytes = bytes > limits.MaxQueueBytes
		}
	}
	if len(kept) >= limits.MaxMessages || overBytes {
		drop := len(kept) - limits.EvictKeep
		for _, m := range kept[:drop] {
			if err := q.backend.DeleteMessage(m.ID); err != nil {
				logging.Error("eviction delete failed", err, map[string]interface{}{"message_id": m.ID})
				continue
			}
			metrics.MessagesEvicted.WithLabelValues("capacity").Inc()
			evicted++
		}
	}

	if evicted > 0 {
		logging.Warn("message queue eviction ran", map[string]interface{}{
			"evicted":   evicted,
			"remaining": len(msgs) - evicted,
		})
	}
	q.updatePendingGauge()
}

func (q *MessageQueue) updatePendingGauge() {
	if count, err := q.backend.CountMessages(models.MessageStatusPending); err == nil {
		metrics.MessagesPending.Set(float64(count))
	}
}
