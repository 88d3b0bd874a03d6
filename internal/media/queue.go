// Package media provides the durable attachment upload queue.
//
// Local blob references and native file paths are not valid across
// process restarts or devices, so attachment bytes are persisted at
// enqueue time and streamed to remote object storage before the message
// that references them can be transmitted.
package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/linocruz/tindahan-sync/internal/errors"
	"github.com/linocruz/tindahan-sync/internal/logging"
	"github.com/linocruz/tindahan-sync/internal/metrics"
	"github.com/linocruz/tindahan-sync/internal/models"
	"github.com/linocruz/tindahan-sync/internal/objstore"
	"github.com/linocruz/tindahan-sync/internal/store"
	"github.com/linocruz/tindahan-sync/internal/uuid"
)

const (
	// MaxFileSize is the attachment size ceiling validated at enqueue.
	MaxFileSize = 100 << 20

	// maxRetries caps automatic upload retries; beyond it the record is
	// terminally failed and needs explicit user action.
	maxRetries = 3

	// thumbnailContentType is the encoding produced for video thumbnails.
	thumbnailContentType = "image/jpeg"
)

// File is the caller-supplied attachment. The payload is read to
// completion before enqueue returns so the original handle can be
// released.
type File struct {
	Name     string
	MimeType string // sniffed from the payload when empty
	Data     []byte
}

// Buckets names the two logical object storage destinations.
type Buckets struct {
	Images string
	Videos string
}

// UploadResult tallies an upload pass.
type UploadResult struct {
	Success int
	Failed  int
}

// URLs is the permanent-location lookup result for a message.
type URLs struct {
	URL          string
	ThumbnailURL string
}

// ProgressFunc receives 0-100 progress per media record during a pass.
type ProgressFunc func(mediaID string, percent int)

// MediaQueue is the durable attachment upload queue. One instance per
// process; only one upload pass runs at a time.
type MediaQueue struct {
	backend store.Backend
	objects objstore.ObjectStore
	thumbs  *Thumbnailer
	buckets Buckets

	passMu sync.Mutex // serializes upload passes
	tsMu   sync.Mutex
	lastTS int64
}

// NewMediaQueue creates a MediaQueue.
func NewMediaQueue(backend store.Backend, objects objstore.ObjectStore, thumbs *Thumbnailer, buckets Buckets) *MediaQueue {
	return &MediaQueue{
		backend: backend,
		objects: objects,
		thumbs:  thumbs,
		buckets: buckets,
	}
}

// QueueMediaUpload validates and persists an attachment for later
// upload. It completes purely against local storage and returns the
// record id immediately, even while offline.
func (q *MediaQueue) QueueMediaUpload(f File, messageID, conversationID string) (string, error) {
	if len(f.Data) == 0 {
		return "", apperrors.New(apperrors.ErrValidation, "empty attachment payload")
	}
	if int64(len(f.Data)) > MaxFileSize {
		return "", apperrors.New(apperrors.ErrFileTooLarge,
			fmt.Sprintf("attachment %s exceeds the %d MB limit", f.Name, MaxFileSize>>20))
	}

	mime := f.MimeType
	if mime == "" {
		mime = mimetype.Detect(f.Data).String()
	}
	fileType, err := classifyMime(mime)
	if err != nil {
		return "", err
	}

	m := &models.QueuedMediaUpload{
		ID:             uuid.New(),
		MessageID:      messageID,
		ConversationID: conversationID,
		FileName:       f.Name,
		FileType:       fileType,
		MimeType:       mime,
		FileSize:       int64(len(f.Data)),
		Payload:        f.Data,
		Status:         models.MediaStatusPending,
		Timestamp:      q.nextTimestamp(),
	}

	if err := q.backend.PutMedia(m); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "failed to enqueue media", err)
	}

	q.updatePendingGauge()
	logging.Debug("media enqueued", map[string]interface{}{
		"media_id":   m.ID,
		"message_id": messageID,
		"file_type":  string(fileType),
		"file_size":  m.FileSize,
	})
	return m.ID, nil
}

func classifyMime(mime string) (models.MediaFileType, error) {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.MediaFileTypeImage, nil
	case strings.HasPrefix(mime, "video/"):
		return models.MediaFileTypeVideo, nil
	default:
		return "", apperrors.New(apperrors.ErrUnsupportedType, "unsupported attachment type: "+mime)
	}
}

func (q *MediaQueue) nextTimestamp() int64 {
	q.tsMu.Lock()
	defer q.tsMu.Unlock()
	now := time.Now().UnixNano()
	if now <= q.lastTS {
		now = q.lastTS + 1
	}
	q.lastTS = now
	return now
}

// GetPendingMedia returns pending uploads, oldest first.
func (q *MediaQueue) GetPendingMedia() ([]*models.QueuedMediaUpload, error) {
	return q.backend.ListMedia(models.MediaStatusPending)
}

// GetPendingCount returns the number of pending uploads.
func (q *MediaQueue) GetPendingCount() (int, error) {
	return q.backend.CountMedia(models.MediaStatusPending)
}

// UploadPendingMedia iterates all pending records and streams each to
// remote object storage. Failures are isolated per record: one failing
// item never aborts the batch. A record that fails is reset to pending
// until the retry cap, then terminally failed. Only one pass runs at a
// time; concurrent callers queue behind the mutex.
func (q *MediaQueue) UploadPendingMedia(ctx context.Context, onProgress ProgressFunc) (UploadResult, error) {
	q.passMu.Lock()
	defer q.passMu.Unlock()

	var result UploadResult

	pending, err := q.backend.ListMedia(models.MediaStatusPending)
	if err != nil {
		return result, apperrors.Wrap(apperrors.ErrStorage, "failed to list pending media", err)
	}

	for _, rec := range pending {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := q.uploadOne(ctx, rec, onProgress); err != nil {
			q.recordFailure(rec, err)
			metrics.MediaUploads.WithLabelValues("failure").Inc()
			result.Failed++
			continue
		}
		metrics.MediaUploads.WithLabelValues("success").Inc()
		result.Success++
	}

	q.updatePendingGauge()
	return result, nil
}

// uploadOne streams a single record, deriving and uploading the sibling
// thumbnail for videos. A video upload is not complete until both the
// primary object and its thumbnail have uploaded.
func (q *MediaQueue) uploadOne(ctx context.Context, rec *models.QueuedMediaUpload, onProgress ProgressFunc) error {
	rec.Status = models.MediaStatusUploading
	rec.Error = ""
	if err := q.backend.UpdateMedia(rec); err != nil {
		return err
	}

	data, err := q.backend.LoadBlob(rec)
	if err != nil {
		return fmt.Errorf("failed to load payload: %w", err)
	}

	bucket := q.buckets.Images
	if rec.FileType == models.MediaFileTypeVideo {
		bucket = q.buckets.Videos
	}
	key := objstore.ObjectKey(rec.ConversationID, rec.ID, rec.FileName)

	url, err := q.objects.Upload(ctx, bucket, key, rec.MimeType, data, func(transferred, total int64) {
		percent := int(transferred * 100 / total)
		rec.UploadProgress = percent
		if onProgress != nil {
			onProgress(rec.ID, percent)
		}
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	var thumbnailURL string
	if rec.FileType == models.MediaFileTypeVideo {
		thumb, err := q.thumbs.Generate(ctx, data)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrThumbnailFailed, "failed to derive video thumbnail", err)
		}
		thumbKey := objstore.ThumbnailKey(rec.ConversationID, rec.ID, rec.FileName)
		thumbnailURL, err = q.objects.Upload(ctx, q.buckets.Videos, thumbKey, thumbnailContentType, thumb, nil)
		if err != nil {
			return fmt.Errorf("thumbnail upload failed: %w", err)
		}
	}

	rec.Status = models.MediaStatusUploaded
	rec.UploadProgress = 100
	rec.UploadedURL = url
	rec.ThumbnailURL = thumbnailURL
	rec.Error = ""
	if err := q.backend.UpdateMedia(rec); err != nil {
		return err
	}

	logging.Info("media uploaded", map[string]interface{}{
		"media_id":   rec.ID,
		"message_id": rec.MessageID,
		"url":        url,
	})
	return nil
}

// recordFailure increments the retry counter and either requeues the
// record or marks it terminally failed at the cap.
func (q *MediaQueue) recordFailure(rec *models.QueuedMediaUpload, cause error) {
	rec.RetryCount++
	rec.UploadProgress = 0
	rec.Error = cause.Error()
	if rec.RetryCount >= maxRetries {
		rec.Status = models.MediaStatusFailed
		logging.ErrorWithCode("media upload failed permanently", string(apperrors.ErrRetryExhausted),
			cause, map[string]interface{}{"media_id": rec.ID, "retry_count": rec.RetryCount})
	} else {
		rec.Status = models.MediaStatusPending
		logging.Warn("media upload failed, will retry", map[string]interface{}{
			"media_id":    rec.ID,
			"retry_count": rec.RetryCount,
			"error":       cause.Error(),
		})
	}
	if err := q.backend.UpdateMedia(rec); err != nil {
		logging.Error("failed to persist media failure", err, map[string]interface{}{"media_id": rec.ID})
	}
}

// GetUploadedURL returns the permanent location for a message's
// attachment once its upload has completed. Empty URLs mean the upload
// has not finished.
func (q *MediaQueue) GetUploadedURL(messageID string) (URLs, error) {
	media, err := q.backend.ListMediaByMessage(messageID)
	if err != nil {
		return URLs{}, apperrors.Wrap(apperrors.ErrStorage, "failed to look up media", err)
	}
	for _, m := range media {
		if m.Status == models.MediaStatusUploaded {
			return URLs{URL: m.UploadedURL, ThumbnailURL: m.ThumbnailURL}, nil
		}
	}
	return URLs{}, nil
}

// AttachmentsReady reports whether every attachment of a message has a
// permanent URL, returning the URLs oldest first. A message must not be
// transmitted while any of its attachments is still pending or failed,
// so one unfinished record makes the whole set not ready.
func (q *MediaQueue) AttachmentsReady(messageID string) ([]string, bool, error) {
	media, err := q.backend.ListMediaByMessage(messageID)
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, "failed to look up media", err)
	}
	urls := make([]string, 0, len(media))
	for _, m := range media {
		if m.Status != models.MediaStatusUploaded {
			return nil, false, nil
		}
		urls = append(urls, m.UploadedURL)
	}
	return urls, true, nil
}

// RetryFailed resets a terminally failed upload back to pending. This is
// the explicit user action that reopens automatic retries.
func (q *MediaQueue) RetryFailed(id string) error {
	m, err := q.backend.GetMedia(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrNotFound, "media not found: "+id)
		}
		return apperrors.Wrap(apperrors.ErrStorage, "failed to load media", err)
	}
	if m.Status != models.MediaStatusFailed {
		return apperrors.New(apperrors.ErrInvalid, "media is not in a failed state")
	}
	m.Status = models.MediaStatusPending
	m.RetryCount = 0
	m.Error = ""
	m.UploadProgress = 0
	if err := q.backend.UpdateMedia(m); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to reset media", err)
	}
	q.updatePendingGauge()
	return nil
}

// ClearUploadedMedia removes a message's uploaded records once the
// consumer has copied out the permanent URLs.
func (q *MediaQueue) ClearUploadedMedia(messageID string) error {
	media, err := q.backend.ListMediaByMessage(messageID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to look up media", err)
	}
	for _, m := range media {
		if m.Status != models.MediaStatusUploaded {
			continue
		}
		if err := q.backend.DeleteMedia(m.ID); err != nil {
			logging.Error("failed to delete uploaded media", err, map[string]interface{}{"media_id": m.ID})
		}
	}
	return nil
}

// ClearQueue removes all records and purges any filesystem-backed
// payloads. Used on sign-out.
func (q *MediaQueue) ClearQueue() error {
	if err := q.backend.ClearMedia(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to clear media queue", err)
	}
	metrics.MediaPending.Set(0)
	logging.Info("media queue cleared")
	return nil
}

// GetStorageStats reports media queue usage; count only, attachments are
// too large to re-serialize for a size estimate.
func (q *MediaQueue) GetStorageStats() (int, error) {
	return q.backend.CountMedia("")
}

func (q *MediaQueue) updatePendingGauge() {
	if count, err := q.backend.CountMedia(models.MediaStatusPending); err == nil {
		metrics.MediaPending.Set(float64(count))
	}
}
