// Package models provides data model definitions for the offline sync queues.
package models

// MessageType classifies a queued message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeLink  MessageType = "link"
)

// MessageStatus represents the transmission state of a queued message.
// Successful transmission removes the record, so there is no "sent" state.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSyncing MessageStatus = "syncing"
	MessageStatusFailed  MessageStatus = "failed"
)

// LinkPreview holds optional link metadata attached to a message.
type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// QueuedMessage represents one outbound chat message awaiting transmission.
type QueuedMessage struct {
	ID             string        `db:"id" json:"id"`
	ConversationID string        `db:"conversation_id" json:"conversation_id"`
	Content        string        `db:"content" json:"content"`
	Type           MessageType   `db:"type" json:"type"`
	MediaURLs      []string      `db:"media_urls" json:"media_urls,omitempty"`
	LinkPreview    *LinkPreview  `db:"link_preview" json:"link_preview,omitempty"`
	Timestamp      int64         `db:"timestamp" json:"timestamp"` // enqueue time in nanoseconds, FIFO ordering key
	RetryCount     int           `db:"retry_count" json:"retry_count"`
	Status         MessageStatus `db:"status" json:"status"`
	Error          string        `db:"error" json:"error,omitempty"` // set only while Status is failed
}

// TableName returns the table name for QueuedMessage.
func (QueuedMessage) TableName() string {
	return "queued_messages"
}
