// Copyright 2024-2026 Aiku AI

package lineapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func newTestLineServer(t *testing.T, tokenCalls *atomic.Int64, onMessage func(path string, auth string, body []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/v2.1/token":
			if tokenCalls != nil {
				tokenCalls.Add(1)
			}
			if err := r.ParseForm(); err != nil {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			if r.PostForm.Get("grant_type") != "client_credentials" {
				http.Error(w, "bad grant_type", http.StatusBadRequest)
				return
			}
			if r.PostForm.Get("client_assertion") == "" {
				http.Error(w, "missing assertion", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"test-token","expires_in":2592000}`)
		default:
			body, _ := io.ReadAll(r.Body)
			if onMessage != nil {
				onMessage(r.URL.Path, r.Header.Get("Authorization"), body)
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient("channel-1", "kid-1", testKeyPEM(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetBaseURL(baseURL)
	return client
}

func TestNewClientRejectsBadKey(t *testing.T) {
	t.Parallel()
	if _, err := NewClient("channel-1", "kid-1", "not a key", zerolog.Nop()); err == nil {
		t.Error("a non-PEM key should be rejected")
	}
}

func TestAccessTokenFetchAndCache(t *testing.T) {
	t.Parallel()
	var tokenCalls atomic.Int64
	ts := newTestLineServer(t, &tokenCalls, nil)
	defer ts.Close()
	client := newTestClient(t, ts.URL)

	if client.Authenticated() {
		t.Error("fresh client should not be authenticated")
	}

	token, err := client.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "test-token" {
		t.Errorf("token: got %q", token)
	}
	if !client.Authenticated() {
		t.Error("client should be authenticated after fetch")
	}

	// Second call is served from cache.
	if _, err := client.AccessToken(context.Background()); err != nil {
		t.Fatalf("cached AccessToken: %v", err)
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("token endpoint calls: got %d, want 1", got)
	}
}

func TestAccessTokenRefetchAfterExpiry(t *testing.T) {
	t.Parallel()
	var tokenCalls atomic.Int64
	ts := newTestLineServer(t, &tokenCalls, nil)
	defer ts.Close()
	client := newTestClient(t, ts.URL)

	now := time.Unix(1700000000, 0)
	client.now = func() time.Time { return now }

	if _, err := client.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}

	// Just before the skewed expiry the cache still serves.
	now = now.Add(2592000*time.Second - expirySkew - time.Second)
	if _, err := client.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken near expiry: %v", err)
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("token calls before expiry: got %d, want 1", got)
	}

	// Past the skewed expiry a new token is fetched.
	now = now.Add(2 * time.Second)
	if _, err := client.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken after expiry: %v", err)
	}
	if got := tokenCalls.Load(); got != 2 {
		t.Errorf("token calls after expiry: got %d, want 2", got)
	}
}

func TestAssertionClaims(t *testing.T) {
	t.Parallel()
	var assertion string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assertion = r.PostForm.Get("client_assertion")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"t","expires_in":3600}`)
	}))
	defer ts.Close()
	client := newTestClient(t, ts.URL)

	if _, err := client.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}

	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		t.Fatalf("assertion is not a JWT: %q", assertion)
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if header["alg"] != "RS256" {
		t.Errorf("alg: got %v, want RS256", header["alg"])
	}
	if header["kid"] != "kid-1" {
		t.Errorf("kid: got %v, want kid-1", header["kid"])
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("parse claims: %v", err)
	}
	if claims["iss"] != "channel-1" || claims["sub"] != "channel-1" {
		t.Errorf("iss/sub: got %v/%v, want channel-1", claims["iss"], claims["sub"])
	}
	if claims["aud"] != tokenAudience {
		t.Errorf("aud: got %v, want %q", claims["aud"], tokenAudience)
	}
	if claims["token_exp"] != float64(2592000) {
		t.Errorf("token_exp: got %v, want 2592000", claims["token_exp"])
	}
}

func TestAccessTokenErrorOnNon2xx(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer ts.Close()
	client := newTestClient(t, ts.URL)

	if _, err := client.AccessToken(context.Background()); err == nil {
		t.Error("non-2xx token response should be an error")
	}
	if client.Authenticated() {
		t.Error("failed fetch must not mark the client authenticated")
	}
}

func TestReply(t *testing.T) {
	t.Parallel()
	var gotPath, gotAuth string
	var gotBody []byte
	ts := newTestLineServer(t, nil, func(path, auth string, body []byte) {
		gotPath, gotAuth, gotBody = path, auth, body
	})
	defer ts.Close()
	client := newTestClient(t, ts.URL)

	if err := client.Reply(context.Background(), "reply-token-1", "hello"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if gotPath != "/v2/bot/message/reply" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth: got %q", gotAuth)
	}

	var payload struct {
		ReplyToken string `json:"replyToken"`
		Messages   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("body: %v", err)
	}
	if payload.ReplyToken != "reply-token-1" {
		t.Errorf("replyToken: got %q", payload.ReplyToken)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].Type != "text" || payload.Messages[0].Text != "hello" {
		t.Errorf("messages: got %+v", payload.Messages)
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotBody []byte
	ts := newTestLineServer(t, nil, func(path, _ string, body []byte) {
		gotPath, gotBody = path, body
	})
	defer ts.Close()
	client := newTestClient(t, ts.URL)

	if err := client.Broadcast(context.Background(), "Taro: hello"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if gotPath != "/v2/bot/message/broadcast" {
		t.Errorf("path: got %q", gotPath)
	}
	if !strings.Contains(string(gotBody), "Taro: hello") {
		t.Errorf("body: got %s", gotBody)
	}
}

func TestSendFailsWithoutToken(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()
	client := newTestClient(t, ts.URL)

	if err := client.Reply(context.Background(), "rt", "hello"); err == nil {
		t.Error("Reply without an obtainable token should fail")
	}
}
