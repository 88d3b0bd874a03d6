package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	apperrors "github.com/linocruz/tindahan-sync/internal/errors"
	"github.com/linocruz/tindahan-sync/internal/models"
	"github.com/linocruz/tindahan-sync/internal/objstore"
	"github.com/linocruz/tindahan-sync/internal/store"
)

// fakeObjectStore records uploads and fails on demand.
type fakeObjectStore struct {
	uploads  []fakeUpload
	failNext int
	failWith error
}

type fakeUpload struct {
	Bucket      string
	Key         string
	ContentType string
	Size        int
}

func (f *fakeObjectStore) Upload(_ context.Context, bucket, key, contentType string, data []byte, progress objstore.ProgressFunc) (string, error) {
	if f.failNext > 0 {
		f.failNext--
		if f.failWith != nil {
			return "", f.failWith
		}
		return "", errors.New("connection reset")
	}
	if progress != nil {
		progress(int64(len(data)/2), int64(len(data)))
		progress(int64(len(data)), int64(len(data)))
	}
	f.uploads = append(f.uploads, fakeUpload{Bucket: bucket, Key: key, ContentType: contentType, Size: len(data)})
	return "https://cdn.example.com/" + bucket + "/" + key, nil
}

func (f *fakeObjectStore) Remove(_ context.Context, _, _ string) error {
	return nil
}

// fakeExtractor returns a fixed frame without touching ffmpeg.
type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) ExtractFrame(_ context.Context, _ []byte, _ time.Duration) (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 640, 480)), nil
}

func newTestMediaQueue(objects *fakeObjectStore, extractor FrameExtractor) *MediaQueue {
	backend := store.NewMemoryBackend(store.Limits{MaxMessages: 500, MaxQueueBytes: 8 << 20, EvictKeep: 400})
	return NewMediaQueue(backend, objects, NewThumbnailer(extractor), Buckets{
		Images: "message-images",
		Videos: "message-videos",
	})
}

func imageFile() File {
	return File{Name: "photo.jpg", MimeType: "image/jpeg", Data: []byte("jpeg-bytes")}
}

func videoFile() File {
	return File{Name: "clip.mp4", MimeType: "video/mp4", Data: []byte("mp4-bytes")}
}

func TestQueueMediaUploadValidation(t *testing.T) {
	q := newTestMediaQueue(&fakeObjectStore{}, &fakeExtractor{})

	_, err := q.QueueMediaUpload(File{Name: "empty.jpg", MimeType: "image/jpeg"}, "msg-1", "conv-1")
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected validation error for empty payload, got %v", err)
	}

	big := File{Name: "huge.jpg", MimeType: "image/jpeg", Data: make([]byte, MaxFileSize+1)}
	_, err = q.QueueMediaUpload(big, "msg-1", "conv-1")
	if !apperrors.Is(err, apperrors.ErrFileTooLarge) {
		t.Errorf("expected file too large, got %v", err)
	}

	_, err = q.QueueMediaUpload(File{Name: "notes.pdf", MimeType: "application/pdf", Data: []byte("%PDF")}, "msg-1", "conv-1")
	if !apperrors.Is(err, apperrors.ErrUnsupportedType) {
		t.Errorf("expected unsupported type, got %v", err)
	}
}

func TestQueueMediaUploadSniffsMime(t *testing.T) {
	q := newTestMediaQueue(&fakeObjectStore{}, &fakeExtractor{})

	// A real PNG header with no declared MIME type.
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	id, err := q.QueueMediaUpload(File{Name: "pic", Data: png}, "msg-1", "conv-1")
	if err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	pending, err := q.GetPendingMedia()
	if err != nil {
		t.Fatalf("GetPendingMedia: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("expected the queued record, got %v", pending)
	}
	if pending[0].FileType != models.MediaFileTypeImage {
		t.Errorf("expected sniffed image type, got %s", pending[0].FileType)
	}
	if !strings.HasPrefix(pending[0].MimeType, "image/png") {
		t.Errorf("expected image/png, got %s", pending[0].MimeType)
	}
}

func TestUploadPendingImage(t *testing.T) {
	objects := &fakeObjectStore{}
	q := newTestMediaQueue(objects, &fakeExtractor{})

	id, err := q.QueueMediaUpload(imageFile(), "msg-1", "conv-1")
	if err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	var progressSeen []int
	result, err := q.UploadPendingMedia(context.Background(), func(mediaID string, percent int) {
		if mediaID == id {
			progressSeen = append(progressSeen, percent)
		}
	})
	if err != nil {
		t.Fatalf("UploadPendingMedia: %v", err)
	}
	if result.Success != 1 || result.Failed != 0 {
		t.Fatalf("expected 1 success, got %+v", result)
	}
	if len(objects.uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(objects.uploads))
	}
	if objects.uploads[0].Bucket != "message-images" {
		t.Errorf("image landed in wrong bucket: %s", objects.uploads[0].Bucket)
	}
	if len(progressSeen) == 0 || progressSeen[len(progressSeen)-1] != 100 {
		t.Errorf("expected progress up to 100, got %v", progressSeen)
	}

	urls, err := q.GetUploadedURL("msg-1")
	if err != nil {
		t.Fatalf("GetUploadedURL: %v", err)
	}
	if urls.URL == "" {
		t.Error("expected a permanent url")
	}
	if urls.ThumbnailURL != "" {
		t.Errorf("images have no thumbnail, got %s", urls.ThumbnailURL)
	}
}

func TestUploadPendingVideoDerivesThumbnail(t *testing.T) {
	objects := &fakeObjectStore{}
	q := newTestMediaQueue(objects, &fakeExtractor{})

	if _, err := q.QueueMediaUpload(videoFile(), "msg-1", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	result, err := q.UploadPendingMedia(context.Background(), nil)
	if err != nil {
		t.Fatalf("UploadPendingMedia: %v", err)
	}
	if result.Success != 1 {
		t.Fatalf("expected 1 success, got %+v", result)
	}
	if len(objects.uploads) != 2 {
		t.Fatalf("expected video + thumbnail uploads, got %d", len(objects.uploads))
	}
	if objects.uploads[0].Bucket != "message-videos" {
		t.Errorf("video landed in wrong bucket: %s", objects.uploads[0].Bucket)
	}
	thumb := objects.uploads[1]
	if !strings.HasPrefix(thumb.Key, "thumbnails/") || !strings.HasSuffix(thumb.Key, ".jpg") {
		t.Errorf("unexpected thumbnail key: %s", thumb.Key)
	}
	if thumb.ContentType != "image/jpeg" {
		t.Errorf("unexpected thumbnail content type: %s", thumb.ContentType)
	}

	urls, err := q.GetUploadedURL("msg-1")
	if err != nil {
		t.Fatalf("GetUploadedURL: %v", err)
	}
	if urls.URL == "" || urls.ThumbnailURL == "" {
		t.Errorf("expected both urls, got %+v", urls)
	}
}

func TestVideoNotUploadedWhenThumbnailFails(t *testing.T) {
	objects := &fakeObjectStore{}
	q := newTestMediaQueue(objects, &fakeExtractor{err: errors.New("no video stream")})

	if _, err := q.QueueMediaUpload(videoFile(), "msg-1", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	result, err := q.UploadPendingMedia(context.Background(), nil)
	if err != nil {
		t.Fatalf("UploadPendingMedia: %v", err)
	}
	if result.Failed != 1 || result.Success != 0 {
		t.Fatalf("expected 1 failure, got %+v", result)
	}

	urls, err := q.GetUploadedURL("msg-1")
	if err != nil {
		t.Fatalf("GetUploadedURL: %v", err)
	}
	if urls.URL != "" {
		t.Error("video must not report uploaded without a thumbnail")
	}
}

func TestRetryCapMakesFailureTerminal(t *testing.T) {
	objects := &fakeObjectStore{failNext: 100}
	q := newTestMediaQueue(objects, &fakeExtractor{})

	id, err := q.QueueMediaUpload(imageFile(), "msg-1", "conv-1")
	if err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	// Three passes exhaust the retry budget.
	for i := 0; i < 3; i++ {
		result, err := q.UploadPendingMedia(context.Background(), nil)
		if err != nil {
			t.Fatalf("UploadPendingMedia pass %d: %v", i, err)
		}
		if result.Failed != 1 {
			t.Fatalf("pass %d: expected 1 failure, got %+v", i, result)
		}
	}

	// The record is now terminally failed; a fourth pass skips it.
	result, err := q.UploadPendingMedia(context.Background(), nil)
	if err != nil {
		t.Fatalf("UploadPendingMedia final pass: %v", err)
	}
	if result.Failed != 0 || result.Success != 0 {
		t.Errorf("terminal record was retried: %+v", result)
	}

	count, err := q.GetPendingCount()
	if err != nil {
		t.Fatalf("GetPendingCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no pending media, got %d", count)
	}

	// Explicit retry reopens the budget.
	if err := q.RetryFailed(id); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	objects.failNext = 0
	result, err = q.UploadPendingMedia(context.Background(), nil)
	if err != nil {
		t.Fatalf("UploadPendingMedia after retry: %v", err)
	}
	if result.Success != 1 {
		t.Errorf("expected success after manual retry, got %+v", result)
	}
}

func TestRetryFailedRejectsNonFailed(t *testing.T) {
	q := newTestMediaQueue(&fakeObjectStore{}, &fakeExtractor{})

	id, err := q.QueueMediaUpload(imageFile(), "msg-1", "conv-1")
	if err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}
	if err := q.RetryFailed(id); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("expected invalid state error, got %v", err)
	}
	if err := q.RetryFailed("missing"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestFailureIsolation(t *testing.T) {
	// First upload fails, second succeeds in the same pass.
	objects := &fakeObjectStore{failNext: 1}
	q := newTestMediaQueue(objects, &fakeExtractor{})

	if _, err := q.QueueMediaUpload(imageFile(), "msg-1", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}
	if _, err := q.QueueMediaUpload(imageFile(), "msg-2", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	result, err := q.UploadPendingMedia(context.Background(), nil)
	if err != nil {
		t.Fatalf("UploadPendingMedia: %v", err)
	}
	if result.Success != 1 || result.Failed != 1 {
		t.Errorf("expected one of each, got %+v", result)
	}
}

func TestAttachmentsReadyRequiresEveryUpload(t *testing.T) {
	objects := &fakeObjectStore{}
	q := newTestMediaQueue(objects, &fakeExtractor{})

	if _, err := q.QueueMediaUpload(File{Name: "a.jpg", MimeType: "image/jpeg", Data: []byte("a")}, "msg-1", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}
	if _, err := q.QueueMediaUpload(File{Name: "b.jpg", MimeType: "image/jpeg", Data: []byte("b")}, "msg-1", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	if _, err := q.UploadPendingMedia(context.Background(), nil); err != nil {
		t.Fatalf("UploadPendingMedia: %v", err)
	}
	// A third attachment lands after the pass; two uploaded plus one
	// pending is a partial set and must not report ready.
	if _, err := q.QueueMediaUpload(File{Name: "c.jpg", MimeType: "image/jpeg", Data: []byte("c")}, "msg-1", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}

	urls, ready, err := q.AttachmentsReady("msg-1")
	if err != nil {
		t.Fatalf("AttachmentsReady: %v", err)
	}
	if ready {
		t.Error("reported ready while an attachment is still pending")
	}
	if len(urls) != 0 {
		t.Errorf("partial url set leaked: %v", urls)
	}

	if _, err := q.UploadPendingMedia(context.Background(), nil); err != nil {
		t.Fatalf("UploadPendingMedia: %v", err)
	}
	urls, ready, err = q.AttachmentsReady("msg-1")
	if err != nil {
		t.Fatalf("AttachmentsReady: %v", err)
	}
	if !ready || len(urls) != 3 {
		t.Errorf("expected all three urls, got ready=%v urls=%v", ready, urls)
	}
	// Oldest-first ordering mirrors enqueue order.
	if !strings.Contains(urls[0], "a.jpg") || !strings.Contains(urls[2], "c.jpg") {
		t.Errorf("urls out of order: %v", urls)
	}
}

func TestClearUploadedMedia(t *testing.T) {
	objects := &fakeObjectStore{}
	q := newTestMediaQueue(objects, &fakeExtractor{})

	if _, err := q.QueueMediaUpload(imageFile(), "msg-1", "conv-1"); err != nil {
		t.Fatalf("QueueMediaUpload: %v", err)
	}
	if _, err := q.UploadPendingMedia(context.Background(), nil); err != nil {
		t.Fatalf("UploadPendingMedia: %v", err)
	}

	if err := q.ClearUploadedMedia("msg-1"); err != nil {
		t.Fatalf("ClearUploadedMedia: %v", err)
	}
	total, err := q.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats: %v", err)
	}
	if total != 0 {
		t.Errorf("expected empty media queue, got %d", total)
	}
}

func TestThumbnailerBoundsFrame(t *testing.T) {
	thumbs := NewThumbnailer(&fakeExtractor{})
	data, err := thumbs.Generate(context.Background(), []byte("video"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > thumbnailMaxWidth || bounds.Dy() > thumbnailMaxHeight {
		t.Errorf("thumbnail exceeds bound: %dx%d", bounds.Dx(), bounds.Dy())
	}
	// 640x480 scaled into 320x320 keeps the 4:3 ratio.
	if bounds.Dx() != 320 || bounds.Dy() != 240 {
		t.Errorf("expected 320x240, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}
