// Copyright 2024-2026 Aiku AI

// Package bridge implements a Discord-LINE message bridge.
//
// The key differentiator of this bridge is the nickname gate: a LINE
// user must register a display name (via the "nick" command) before any
// of their messages are shared, and those names are stored encrypted at
// rest so even operators cannot casually read them.
//
// # Core Types
//
// [Bridge] owns the component graph and lifecycle: credential store,
// nickname registry, rate limiter, dedup window, LINE client, Discord
// session and the webhook HTTP server.
//
// [Relay] is the protocol core. Every inbound LINE event runs through
// the dedup window, the nick-command interceptor and the nickname gate
// before being relayed to Discord and rebroadcast to LINE. Messages
// posted in the Discord sync channel travel the other way, rate
// limited, with a reaction on the source message signalling the
// outcome.
//
// [NicknameRegistry] is the sole owner and mutator of the persisted
// user-id to display-name mapping; every entry is sealed by
// [CredentialStore] with AES-256-GCM before it touches disk.
//
// # Echo Prevention
//
// Bot-authored Discord messages (including the bridge's own webhook
// posts) are never relayed back to LINE, and the dedup window drops
// redelivered webhook events on both platforms. Without both layers the
// two platforms would echo each other indefinitely.
//
// # Sub-packages
//
//   - lineapi implements the LINE Messaging API slice the bridge uses:
//     token issuance, replies, broadcasts and webhook verification.
package bridge
