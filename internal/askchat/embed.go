package askchat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// EmbedRequest is the /embed-message payload understood by the ingestion
// side of the AI backend. Timestamp is epoch milliseconds.
type EmbedRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

// EmbedMessage pushes one historical message into the retrieval index.
func (c *Client) EmbedMessage(ctx context.Context, em EmbedRequest) error {
	if c.BaseURL == "" {
		return ErrNotConfigured
	}

	b, err := json.Marshal(em)
	if err != nil {
		return err
	}

	url := c.BaseURL + "/embed-message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &BackendError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
