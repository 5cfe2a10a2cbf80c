package askchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAsk_Success(t *testing.T) {
	var gotToken string
	var gotBody askReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ask" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotToken = r.Header.Get("X-Askchat-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(AskResult{
			Answer: "42",
			Sources: []Source{
				{ChatID: "A", MessageID: "1", Text: "about 42"},
				{ChatID: "B", MessageID: "2"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "shhh")
	res, err := c.Ask(context.Background(), "what is the answer?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.Answer != "42" || len(res.Sources) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotToken != "shhh" {
		t.Fatalf("expected shared secret header, got %q", gotToken)
	}
	if gotBody.Question != "what is the answer?" || gotBody.TopK != 5 {
		t.Fatalf("unexpected request body %+v", gotBody)
	}
}

func TestAsk_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Ask(context.Background(), "q")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if be.Status != http.StatusServiceUnavailable || be.Body != "index rebuilding" {
		t.Fatalf("unexpected error detail %+v", be)
	}
}

func TestAsk_NotConfigured(t *testing.T) {
	c := NewClient("", "token")
	if _, err := c.Ask(context.Background(), "q"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestAsk_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.Client.Timeout = 20 * time.Millisecond

	if _, err := c.Ask(context.Background(), "q"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestAsk_SingleAttempt(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, _ = c.Ask(context.Background(), "q")
	if calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls)
	}
}

func TestEmbedMessage(t *testing.T) {
	var got EmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed-message" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.EmbedMessage(context.Background(), EmbedRequest{
		ChatID:    "A",
		MessageID: "1",
		Text:      "hello",
		SenderID:  "u1",
		Timestamp: 1700000000000,
	})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if got.ChatID != "A" || got.MessageID != "1" || got.Timestamp != 1700000000000 {
		t.Fatalf("unexpected payload %+v", got)
	}
}
