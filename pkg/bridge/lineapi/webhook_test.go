// Copyright 2024-2026 Aiku AI

package lineapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()
	body := []byte(`{"destination":"U1","events":[]}`)

	if !ValidateSignature("secret", body, sign("secret", body)) {
		t.Error("valid signature should pass")
	}
	if ValidateSignature("secret", body, sign("other-secret", body)) {
		t.Error("signature with the wrong secret should fail")
	}
	if ValidateSignature("secret", []byte("tampered"), sign("secret", body)) {
		t.Error("signature over a different body should fail")
	}
	if ValidateSignature("secret", body, "") {
		t.Error("empty signature should fail")
	}
	if ValidateSignature("secret", body, "!!not-base64!!") {
		t.Error("garbage signature should fail")
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"destination": "Udest",
		"events": [
			{
				"type": "message",
				"replyToken": "rt1",
				"source": {"type": "user", "userId": "U1"},
				"message": {"id": "m1", "type": "text", "text": "hello"}
			},
			{
				"type": "follow",
				"replyToken": "rt2",
				"source": {"type": "user", "userId": "U2"}
			}
		]
	}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Destination != "Udest" {
		t.Errorf("destination: got %q", env.Destination)
	}
	if len(env.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(env.Events))
	}
	evt := env.Events[0]
	if evt.Message == nil || evt.Message.Text != "hello" {
		t.Errorf("message: got %+v", evt.Message)
	}
	if evt.Source.UserID != "U1" {
		t.Errorf("user id: got %q", evt.Source.UserID)
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	t.Parallel()
	if _, err := ParseEnvelope([]byte("{not json")); err == nil {
		t.Error("malformed body should fail to parse")
	}
}

func TestIsUserText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		evt  WebhookEvent
		want bool
	}{
		{
			name: "user text",
			evt: WebhookEvent{Type: "message", Source: EventSource{Type: "user"},
				Message: &MessageContent{Type: "text"}},
			want: true,
		},
		{
			name: "group text",
			evt: WebhookEvent{Type: "message", Source: EventSource{Type: "group"},
				Message: &MessageContent{Type: "text"}},
			want: false,
		},
		{
			name: "user image",
			evt: WebhookEvent{Type: "message", Source: EventSource{Type: "user"},
				Message: &MessageContent{Type: "image"}},
			want: false,
		},
		{
			name: "follow event",
			evt:  WebhookEvent{Type: "follow", Source: EventSource{Type: "user"}},
			want: false,
		},
		{
			name: "message without payload",
			evt:  WebhookEvent{Type: "message", Source: EventSource{Type: "user"}},
			want: false,
		},
	}
	for _, tc := range cases {
		if got := tc.evt.IsUserText(); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
