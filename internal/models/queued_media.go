package models

// MediaFileType classifies an attachment by its MIME family.
type MediaFileType string

const (
	MediaFileTypeImage MediaFileType = "image"
	MediaFileTypeVideo MediaFileType = "video"
)

// MediaStatus represents the upload state of a queued attachment.
type MediaStatus string

const (
	MediaStatusPending   MediaStatus = "pending"
	MediaStatusUploading MediaStatus = "uploading"
	MediaStatusUploaded  MediaStatus = "uploaded"
	MediaStatusFailed    MediaStatus = "failed"
)

// QueuedMediaUpload represents one attachment awaiting upload to remote
// object storage. The payload lives either inline (Payload) or as a file
// under the platform data directory (LocalPath), never both.
type QueuedMediaUpload struct {
	ID             string        `db:"id" json:"id"`
	MessageID      string        `db:"message_id" json:"message_id"`
	ConversationID string        `db:"conversation_id" json:"conversation_id"`
	FileName       string        `db:"file_name" json:"file_name"`
	FileType       MediaFileType `db:"file_type" json:"file_type"`
	MimeType       string        `db:"mime_type" json:"mime_type"`
	FileSize       int64         `db:"file_size" json:"file_size"`
	Payload        []byte        `db:"payload" json:"-"`
	LocalPath      string        `db:"local_path" json:"local_path,omitempty"`
	UploadProgress int           `db:"upload_progress" json:"upload_progress"` // 0-100
	Status         MediaStatus   `db:"status" json:"status"`
	UploadedURL    string        `db:"uploaded_url" json:"uploaded_url,omitempty"`
	ThumbnailURL   string        `db:"thumbnail_url" json:"thumbnail_url,omitempty"` // video only
	Error          string        `db:"error" json:"error,omitempty"`
	RetryCount     int           `db:"retry_count" json:"retry_count"`
	Timestamp      int64         `db:"timestamp" json:"timestamp"`
}

// TableName returns the table name for QueuedMediaUpload.
func (QueuedMediaUpload) TableName() string {
	return "queued_media"
}
