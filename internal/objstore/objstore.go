// Package objstore provides remote object storage for media uploads.
package objstore

import "context"

// ProgressFunc receives transfer progress while an upload streams.
type ProgressFunc func(transferred, total int64)

// ObjectStore is the remote storage an upload pass streams attachments
// to. Upload returns the permanent public URL of the stored object.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, data []byte, progress ProgressFunc) (string, error)
	Remove(ctx context.Context, bucket, key string) error
}

// ObjectKey builds the canonical object name for an attachment.
func ObjectKey(conversationID, mediaID, fileName string) string {
	return conversationID + "/" + mediaID + "_" + fileName
}

// ThumbnailKey builds the sibling thumbnail object name for a video.
// Thumbnails land in the video bucket under a thumbnails/ prefix.
func ThumbnailKey(conversationID, mediaID, fileName string) string {
	return "thumbnails/" + ObjectKey(conversationID, mediaID, fileName) + ".jpg"
}
