// Copyright 2024-2026 Aiku AI

package lineapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SignatureHeader is the header carrying the HMAC signature on webhook
// deliveries from the LINE platform.
const SignatureHeader = "X-Line-Signature"

// WebhookEnvelope is the top-level body of a webhook POST.
type WebhookEnvelope struct {
	Destination string         `json:"destination"`
	Events      []WebhookEvent `json:"events"`
}

// WebhookEvent is a single event inside a webhook envelope. Only the
// fields the bridge consumes are mapped.
type WebhookEvent struct {
	Type       string          `json:"type"`
	ReplyToken string          `json:"replyToken"`
	Source     EventSource     `json:"source"`
	Message    *MessageContent `json:"message,omitempty"`
}

// EventSource identifies where an event originated.
type EventSource struct {
	Type   string `json:"type"` // "user", "group" or "room"
	UserID string `json:"userId"`
}

// MessageContent is the message payload of a message event.
type MessageContent struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "text", "image", ...
	Text string `json:"text"`
}

// IsUserText reports whether the event is a text message sent directly
// by a user. Group and room messages are not relayed.
func (e *WebhookEvent) IsUserText() bool {
	return e.Type == "message" &&
		e.Source.Type == "user" &&
		e.Message != nil &&
		e.Message.Type == "text"
}

// ParseEnvelope decodes a raw webhook body.
func ParseEnvelope(body []byte) (*WebhookEnvelope, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse webhook envelope: %w", err)
	}
	return &env, nil
}

// ValidateSignature checks the X-Line-Signature value against the raw
// request body. The signature is the base64 encoding of the HMAC-SHA256
// of the body keyed by the channel secret.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
