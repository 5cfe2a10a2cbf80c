package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type payload struct {
	Tokens       []string          `json:"tokens"`
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data"`
	ChannelID    string            `json:"channelId,omitempty"`
}

// Sender dispatches one push to a set of device tokens. Implementations
// report delivery failure through the returned error; callers isolate
// failures per recipient.
type Sender interface {
	Send(ctx context.Context, tokens []string, n Notification, data map[string]string) error
}

// HTTPSender posts the payload to a push gateway.
type HTTPSender struct {
	URL       string
	ChannelID string
	Client    *http.Client
}

func NewHTTPSender(url, channelID string) *HTTPSender {
	return &HTTPSender{
		URL:       strings.TrimRight(url, "/"),
		ChannelID: channelID,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSender) Send(ctx context.Context, tokens []string, n Notification, data map[string]string) error {
	if s.URL == "" {
		return fmt.Errorf("push: gateway url not set")
	}
	if len(tokens) == 0 {
		return nil
	}

	b, err := json.Marshal(payload{
		Tokens:       tokens,
		Notification: n,
		Data:         data,
		ChannelID:    s.ChannelID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(b))
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
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return fmt.Errorf("push: gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
