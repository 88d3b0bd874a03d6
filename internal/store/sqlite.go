package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/linocruz/tindahan-sync/internal/models"
)

// SQLiteBackend is the structured store backend. Records live in two
// indexed tables and media payloads are kept inline as blobs.
type SQLiteBackend struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queued_messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	media_urls TEXT,
	link_preview TEXT,
	timestamp INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON queued_messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON queued_messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_status ON queued_messages(status);

CREATE TABLE IF NOT EXISTS queued_media (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	payload BLOB,
	local_path TEXT,
	upload_progress INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	uploaded_url TEXT,
	thumbnail_url TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_media_message ON queued_media(message_id);
CREATE INDEX IF NOT EXISTS idx_media_timestamp ON queued_media(timestamp);
CREATE INDEX IF NOT EXISTS idx_media_status ON queued_media(status);
`

// OpenSQLite opens the SQLite-backed queue store under dataDir.
// The database is opened with WAL mode and foreign keys enabled.
func OpenSQLite(dataDir string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "offline_queue.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// prepareStmt gets or creates a prepared statement from the cache.
func (b *SQLiteBackend) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := b.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := b.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := b.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Limits returns the structured-store quota configuration.
func (b *SQLiteBackend) Limits() Limits {
	return Limits{MaxMessages: 1000, MaxQueueBytes: 0, EvictKeep: 400}
}

// =====================================================
// Message operations
// =====================================================

func (b *SQLiteBackend) PutMessage(m *models.QueuedMessage) error {
	mediaURLs, linkPreview, err := marshalMessageJSON(m)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO queued_messages (id, conversation_id, content, type, media_urls,
		link_preview, timestamp, retry_count, status, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = b.db.Exec(query, m.ID, m.ConversationID, m.Content, m.Type,
		mediaURLs, linkPreview, m.Timestamp, m.RetryCount, m.Status, nullIfEmpty(m.Error))
	return err
}

func (b *SQLiteBackend) GetMessage(id string) (*models.QueuedMessage, error) {
	query := `
	SELECT id, conversation_id, content, type, media_urls, link_preview,
		   timestamp, retry_count, status, error
	FROM queued_messages WHERE id = ?
	`
	stmt, err := b.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanMessage(stmt.QueryRow(id))
}

func (b *SQLiteBackend) ListMessages(status models.MessageStatus) ([]*models.QueuedMessage, error) {
	query := `
	SELECT id, conversation_id, content, type, media_urls, link_preview,
		   timestamp, retry_count, status, error
	FROM queued_messages
	`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.QueuedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (b *SQLiteBackend) UpdateMessage(m *models.QueuedMessage) error {
	mediaURLs, linkPreview, err := marshalMessageJSON(m)
	if err != nil {
		return err
	}

	query := `
	UPDATE queued_messages
	SET content = ?, type = ?, media_urls = ?, link_preview = ?,
		retry_count = ?, status = ?, error = ?
	WHERE id = ?
	`
	_, err = b.db.Exec(query, m.Content, m.Type, mediaURLs, linkPreview,
		m.RetryCount, m.Status, nullIfEmpty(m.Error), m.ID)
	return err
}

func (b *SQLiteBackend) DeleteMessage(id string) error {
	_, err := b.db.Exec("DELETE FROM queued_messages WHERE id = ?", id)
	return err
}

func (b *SQLiteBackend) CountMessages(status models.MessageStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = b.db.QueryRow("SELECT COUNT(*) FROM queued_messages").Scan(&count)
	} else {
		stmt, perr := b.prepareStmt("SELECT COUNT(*) FROM queued_messages WHERE status = ?")
		if perr != nil {
			return 0, perr
		}
		err = stmt.QueryRow(status).Scan(&count)
	}
	return count, err
}

// MessageQueueBytes reports 0: the record count is the binding constraint
// on the structured store and serialized size is not cheaply computable.
func (b *SQLiteBackend) MessageQueueBytes() (int64, error) {
	return 0, nil
}

func (b *SQLiteBackend) ClearMessages() error {
	_, err := b.db.Exec("DELETE FROM queued_messages")
	return err
}

// =====================================================
// Media operations
// =====================================================

func (b *SQLiteBackend) PutMedia(m *models.QueuedMediaUpload) error {
	query := `
	INSERT INTO queued_media (id, message_id, conversation_id, file_name, file_type,
		mime_type, file_size, payload, local_path, upload_progress, status,
		uploaded_url, thumbnail_url, error, retry_count, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := b.db.Exec(query, m.ID, m.MessageID, m.ConversationID, m.FileName,
		m.FileType, m.MimeType, m.FileSize, m.Payload, nullIfEmpty(m.LocalPath),
		m.UploadProgress, m.Status, nullIfEmpty(m.UploadedURL),
		nullIfEmpty(m.ThumbnailURL), nullIfEmpty(m.Error), m.RetryCount, m.Timestamp)
	return err
}

// mediaColumns deliberately excludes the payload blob; list and get stay
// cheap and LoadBlob fetches bytes on demand.
const mediaColumns = `id, message_id, conversation_id, file_name, file_type,
	mime_type, file_size, local_path, upload_progress, status,
	uploaded_url, thumbnail_url, error, retry_count, timestamp`

func (b *SQLiteBackend) GetMedia(id string) (*models.QueuedMediaUpload, error) {
	stmt, err := b.prepareStmt("SELECT " + mediaColumns + " FROM queued_media WHERE id = ?")
	if err != nil {
		return nil, err
	}
	return scanMedia(stmt.QueryRow(id))
}

func (b *SQLiteBackend) ListMedia(status models.MediaStatus) ([]*models.QueuedMediaUpload, error) {
	query := "SELECT " + mediaColumns + " FROM queued_media"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY timestamp ASC"
	return b.queryMedia(query, args...)
}

func (b *SQLiteBackend) ListMediaByMessage(messageID string) ([]*models.QueuedMediaUpload, error) {
	query := "SELECT " + mediaColumns + " FROM queued_media WHERE message_id = ? ORDER BY timestamp ASC"
	return b.queryMedia(query, messageID)
}

func (b *SQLiteBackend) queryMedia(query string, args ...interface{}) ([]*models.QueuedMediaUpload, error) {
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var media []*models.QueuedMediaUpload
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}
	return media, rows.Err()
}

func (b *SQLiteBackend) UpdateMedia(m *models.QueuedMediaUpload) error {
	query := `
	UPDATE queued_media
	SET upload_progress = ?, status = ?, uploaded_url = ?, thumbnail_url = ?,
		error = ?, retry_count = ?
	WHERE id = ?
	`
	_, err := b.db.Exec(query, m.UploadProgress, m.Status,
		nullIfEmpty(m.UploadedURL), nullIfEmpty(m.ThumbnailURL),
		nullIfEmpty(m.Error), m.RetryCount, m.ID)
	return err
}

func (b *SQLiteBackend) DeleteMedia(id string) error {
	_, err := b.db.Exec("DELETE FROM queued_media WHERE id = ?", id)
	return err
}

func (b *SQLiteBackend) CountMedia(status models.MediaStatus) (int, error) {
	var count int
	var err error
	if status == "" {
		err = b.db.QueryRow("SELECT COUNT(*) FROM queued_media").Scan(&count)
	} else {
		stmt, perr := b.prepareStmt("SELECT COUNT(*) FROM queued_media WHERE status = ?")
		if perr != nil {
			return 0, perr
		}
		err = stmt.QueryRow(status).Scan(&count)
	}
	return count, err
}

func (b *SQLiteBackend) ClearMedia() error {
	_, err := b.db.Exec("DELETE FROM queued_media")
	return err
}

// LoadBlob fetches the inline payload for a media record.
func (b *SQLiteBackend) LoadBlob(m *models.QueuedMediaUpload) ([]byte, error) {
	if len(m.Payload) > 0 {
		return m.Payload, nil
	}
	stmt, err := b.prepareStmt("SELECT payload FROM queued_media WHERE id = ?")
	if err != nil {
		return nil, err
	}
	var payload []byte
	if err := stmt.QueryRow(m.ID).Scan(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Close closes cached statements and the database connection.
func (b *SQLiteBackend) Close() error {
	b.stmtCache.Range(func(key, value interface{}) bool {
		value.(*sql.Stmt).Close()
		return true
	})
	return b.db.Close()
}

// =====================================================
// Scan helpers
// =====================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.QueuedMessage, error) {
	var m models.QueuedMessage
	var mediaURLs, linkPreview, errMsg sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &m.Content, &m.Type,
		&mediaURLs, &linkPreview, &m.Timestamp, &m.RetryCount, &m.Status, &errMsg)
	if err != nil {
		return nil, err
	}
	if mediaURLs.Valid && mediaURLs.String != "" {
		if err := json.Unmarshal([]byte(mediaURLs.String), &m.MediaURLs); err != nil {
			return nil, fmt.Errorf("failed to decode media_urls: %w", err)
		}
	}
	if linkPreview.Valid && linkPreview.String != "" {
		m.LinkPreview = &models.LinkPreview{}
		if err := json.Unmarshal([]byte(linkPreview.String), m.LinkPreview); err != nil {
			return nil, fmt.Errorf("failed to decode link_preview: %w", err)
		}
	}
	if errMsg.Valid {
		m.Error = errMsg.String
	}
	return &m, nil
}

func scanMedia(row rowScanner) (*models.QueuedMediaUpload, error) {
	var m models.QueuedMediaUpload
	var localPath, uploadedURL, thumbnailURL, errMsg sql.NullString
	err := row.Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.FileName,
		&m.FileType, &m.MimeType, &m.FileSize, &localPath, &m.UploadProgress,
		&m.Status, &uploadedURL, &thumbnailURL, &errMsg, &m.RetryCount, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	if localPath.Valid {
		m.LocalPath = localPath.String
	}
	if uploadedURL.Valid {
		m.UploadedURL = uploadedURL.String
	}
	if thumbnailURL.Valid {
		m.ThumbnailURL = thumbnailURL.String
	}
	if errMsg.Valid {
		m.Error = errMsg.String
	}
	return &m, nil
}

func marshalMessageJSON(m *models.QueuedMessage) (mediaURLs, linkPreview interface{}, err error) {
	if len(m.MediaURLs) > 0 {
		data, err := json.Marshal(m.MediaURLs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode media_urls: %w", err)
		}
		mediaURLs = string(data)
	}
	if m.LinkPreview != nil {
		data, err := json.Marshal(m.LinkPreview)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode link_preview: %w", err)
		}
		linkPreview = string(data)
	}
	return mediaURLs, linkPreview, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
