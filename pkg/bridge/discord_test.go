// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestWebhookSenderPostsPayload(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotContentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	sender := NewWebhookSender(ts.URL, zerolog.Nop())
	if err := sender.Send(context.Background(), "hello", "Taro", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("content type: got %q", gotContentType)
	}
	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if payload["content"] != "hello" {
		t.Errorf("content: got %v", payload["content"])
	}
	if payload["username"] != "Taro" {
		t.Errorf("username: got %v", payload["username"])
	}
	if _, ok := payload["avatar_url"]; ok {
		t.Error("empty avatar_url should be omitted")
	}
}

func TestWebhookSenderNon2xxIsError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	sender := NewWebhookSender(ts.URL, zerolog.Nop())
	if err := sender.Send(context.Background(), "hello", "Taro", ""); err == nil {
		t.Error("non-2xx response should be an error")
	}
}

func TestWebhookSenderConnectionErrorIsError(t *testing.T) {
	t.Parallel()

	sender := NewWebhookSender("http://127.0.0.1:1", zerolog.Nop())
	if err := sender.Send(context.Background(), "hello", "Taro", ""); err == nil {
		t.Error("connection failure should be an error")
	}
}
