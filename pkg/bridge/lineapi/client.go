// Copyright 2024-2026 Aiku AI

// Package lineapi implements the slice of the LINE Messaging API the
// bridge needs: channel access token issuance via a signed JWT
// assertion, direct replies keyed by a reply token, and broadcasts to
// all subscribers.
package lineapi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the production LINE API endpoint.
	DefaultBaseURL = "https://api.line.me"

	// tokenAudience is the aud claim required by the token endpoint.
	tokenAudience = "https://api.line.me/"

	// assertionTTL bounds the validity of the signed assertion itself.
	assertionTTL = 30 * time.Minute

	// requestedTokenLifetime is the token_exp claim: the lifetime we ask
	// the platform to grant the issued channel access token.
	requestedTokenLifetime = 30 * 24 * time.Hour

	// expirySkew is subtracted from the server-declared lifetime so the
	// cached token is refreshed before it actually expires.
	expirySkew = time.Minute

	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// Client talks to the LINE Messaging API on behalf of one channel.
// It caches the channel access token until shortly before expiry.
type Client struct {
	channelID  string
	keyID      string
	privateKey *rsa.PrivateKey

	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	now func() time.Time

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient builds a Client from the channel identity and its signing
// key in PEM form. A 10 second timeout is applied to every request so a
// hung endpoint cannot stall event handling indefinitely.
func NewClient(channelID, keyID, privateKeyPEM string, log zerolog.Logger) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel private key: %w", err)
	}
	return &Client{
		channelID:  channelID,
		keyID:      keyID,
		privateKey: key,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "line_client").Logger(),
		now:        time.Now,
	}, nil
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// Authenticated reports whether a non-expired access token is cached.
func (c *Client) Authenticated() bool {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.accessToken != "" && c.now().Before(c.tokenExpiry)
}

// signAssertion builds the RS256 client assertion for the
// client-credentials grant.
func (c *Client) signAssertion() (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":       c.channelID,
		"sub":       c.channelID,
		"aud":       tokenAudience,
		"exp":       now.Add(assertionTTL).Unix(),
		"token_exp": int64(requestedTokenLifetime / time.Second),
	})
	token.Header["kid"] = c.keyID
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AccessToken returns the cached channel access token, fetching a fresh
// one when absent or expired. Concurrent callers are serialized so only
// one fetch is in flight.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	assertion, err := c.signAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth2/v2.1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access_token")
	}

	c.accessToken = tr.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - expirySkew)
	c.log.Info().Time("expiry", c.tokenExpiry).Msg("Fetched LINE channel access token")
	return c.accessToken, nil
}

// textMessage is the wire shape of an outgoing text message.
type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply sends a direct reply keyed by a one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	payload := struct {
		ReplyToken string        `json:"replyToken"`
		Messages   []textMessage `json:"messages"`
	}{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	return c.postMessage(ctx, "/v2/bot/message/reply", payload)
}

// Broadcast sends a text message to every subscriber of the channel.
// Rate limiting is the caller's concern.
func (c *Client) Broadcast(ctx context.Context, text string) error {
	payload := struct {
		Messages []textMessage `json:"messages"`
	}{
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	return c.postMessage(ctx, "/v2/bot/message/broadcast", payload)
}

func (c *Client) postMessage(ctx context.Context, path string, payload any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("no access token: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to build message request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("message request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, errBody)
	}
	return nil
}
