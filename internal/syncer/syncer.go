// Package syncer drains the offline queues when connectivity returns.
package syncer

import (
	"context"
	"sync"

	"github.com/linocruz/tindahan-sync/internal/connectivity"
	apperrors "github.com/linocruz/tindahan-sync/internal/errors"
	"github.com/linocruz/tindahan-sync/internal/logging"
	"github.com/linocruz/tindahan-sync/internal/media"
	"github.com/linocruz/tindahan-sync/internal/models"
	"github.com/linocruz/tindahan-sync/internal/queue"
)

// Sender transmits one message to the backend. Implementations own
// transport, auth and per-message retry semantics below one attempt.
type Sender interface {
	Send(ctx context.Context, m *models.QueuedMessage) error
}

// SyncResult tallies a drain pass.
type SyncResult struct {
	MediaUploaded  int
	MediaFailed    int
	MessagesSent   int
	MessagesFailed int
}

// Syncer drives the drain sequence: media first so permanent URLs exist,
// then messages oldest first. One instance per process.
type Syncer struct {
	messages *queue.MessageQueue
	media    *media.MediaQueue
	monitor  *connectivity.Monitor
	sender   Sender

	mu          sync.Mutex
	inFlight    bool
	unsubscribe func()
}

// New creates a Syncer.
func New(messages *queue.MessageQueue, mediaQueue *media.MediaQueue, monitor *connectivity.Monitor, sender Sender) *Syncer {
	return &Syncer{
		messages: messages,
		media:    mediaQueue,
		monitor:  monitor,
		sender:   sender,
	}
}

// Start subscribes to connectivity edges; a transition to online kicks
// off a drain pass in the background.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.monitor.OnNetworkChange(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := s.Sync(context.Background()); err != nil &&
				!apperrors.Is(err, apperrors.ErrSyncInProgress) {
				logging.Error("background sync failed", err)
			}
		}()
	})
}

// Stop removes the connectivity subscription. An in-flight pass runs to
// completion.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Sync runs one drain pass: upload pending media, patch permanent URLs
// into their messages, then transmit pending messages oldest first. A
// message failure resets it to pending for the next pass; transmission
// success deletes the record. Only one pass runs at a time; a concurrent
// call fails fast.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return SyncResult{}, apperrors.New(apperrors.ErrSyncInProgress, "a sync pass is already running")
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	var result SyncResult

	mediaResult, err := s.media.UploadPendingMedia(ctx, nil)
	if err != nil {
		return result, err
	}
	result.MediaUploaded = mediaResult.Success
	result.MediaFailed = mediaResult.Failed

	pending, err := s.messages.GetPendingMessages()
	if err != nil {
		return result, err
	}

	for _, m := range pending {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := s.sendOne(ctx, m); err != nil {
			result.MessagesFailed++
			continue
		}
		result.MessagesSent++
	}

	if result.MediaUploaded+result.MessagesSent+result.MediaFailed+result.MessagesFailed > 0 {
		logging.Info("sync pass finished", map[string]interface{}{
			"media_uploaded":  result.MediaUploaded,
			"media_failed":    result.MediaFailed,
			"messages_sent":   result.MessagesSent,
			"messages_failed": result.MessagesFailed,
		})
	}
	return result, nil
}

// sendOne transmits a single message, patching in uploaded attachment
// URLs first. Messages whose attachments have not all uploaded yet are
// skipped for a later pass rather than sent incomplete.
func (s *Syncer) sendOne(ctx context.Context, m *models.QueuedMessage) error {
	if m.Type == models.MessageTypeImage || m.Type == models.MessageTypeVideo {
		urls, ready, err := s.media.AttachmentsReady(m.ID)
		if err != nil {
			return err
		}
		if !ready || len(urls) == 0 {
			return apperrors.New(apperrors.ErrUploadFailed, "attachments not yet uploaded")
		}
		if err := s.messages.AttachMediaURLs(m.ID, urls); err != nil {
			return err
		}
		m.MediaURLs = urls
	}

	if err := s.messages.UpdateMessageStatus(m.ID, models.MessageStatusSyncing, ""); err != nil {
		return err
	}

	if err := s.sender.Send(ctx, m); err != nil {
		// Back to pending; the status transition counts the attempt.
		if uerr := s.messages.UpdateMessageStatus(m.ID, models.MessageStatusPending, ""); uerr != nil {
			logging.Error("failed to requeue message after send failure", uerr,
				map[string]interface{}{"message_id": m.ID})
		}
		logging.Warn("message send failed", map[string]interface{}{
			"message_id": m.ID,
			"error":      err.Error(),
		})
		return err
	}

	// Transmission succeeded: the record's job is done.
	if err := s.messages.DeleteMessage(m.ID); err != nil {
		return err
	}
	if err := s.media.ClearUploadedMedia(m.ID); err != nil {
		logging.Error("failed to clear uploaded media", err, map[string]interface{}{"message_id": m.ID})
	}
	return nil
}
