package askchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one /ask round trip. Exceeding it is treated the
// same as any other backend failure.
const DefaultTimeout = 20 * time.Second

// topK is the fixed retrieval breadth sent with every question.
const topK = 5

const tokenHeader = "X-Askchat-Token"

// ErrNotConfigured means the backend base URL is unset.
var ErrNotConfigured = errors.New("askchat: backend url not set")

// BackendError is a non-2xx response from the answer service.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	body := e.Body
	if body == "" {
		body = "(no body)"
	}
	return fmt.Sprintf("askchat: /ask failed %d: %s", e.Status, body)
}

// Source is one citation returned with an answer.
type Source struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text,omitempty"`
}

type AskResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

type askReq struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// Ask performs exactly one attempt against POST {base}/ask. Retry policy,
// if any, belongs to the caller.
func (c *Client) Ask(ctx context.Context, question string) (*AskResult, error) {
	if c.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if c.Client == nil {
		return nil, errors.New("askchat: http client is nil")
	}

	b, err := json.Marshal(askReq{Question: question, TopK: topK})
	if err != nil {
		return nil, err
	}

	url := c.BaseURL + "/ask"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &BackendError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out AskResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
