package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/linocruz/tindahan-sync/internal/models"
)

// HTTPSender transmits messages as JSON POSTs to the chat backend.
type HTTPSender struct {
	URL    string
	Client *http.Client
}

// NewHTTPSender creates an HTTPSender for the given endpoint.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{URL: url, Client: &http.Client{}}
}

// Send posts one message. Any non-2xx response is a failed attempt.
func (s *HTTPSender) Send(ctx context.Context, m *models.QueuedMessage) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("message send rejected with status %d", resp.StatusCode)
	}
	return nil
}
