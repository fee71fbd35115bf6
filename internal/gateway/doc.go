// Package gateway serves the inbox over HTTP and WebSocket.
//
// # Overview
//
// The Gateway owns the SQLite store, the conversation Service and its
// EventBroadcaster, the idempotency cache and the HTTP server. New opens
// the store from config; NewWithStore accepts one, which is how tests run
// the full API against store.MockStore.
//
// # HTTP API
//
// All /api routes require a bearer JWT whose subject is the caller's user
// ID (see package auth). WebSocket routes may pass it as ?access_token=.
//
//   - GET /api/conversations - The caller's conversations, newest activity first
//   - POST /api/conversations - Send a first message to recipient_id
//   - GET /api/conversations/{id}/messages - One page of history, oldest first
//   - POST /api/conversations/{id}/messages - Send a message
//   - POST /api/conversations/{id}/read - Mark messages from others read
//   - GET /api/conversations/{id}/ws - Push new messages of one conversation
//   - GET /api/ws/conversations - Push conversation list change notices
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//
// Errors are JSON objects of the form {"error": "..."}:
//
//	400  malformed body, bad limit or cursor, empty message, bad recipient
//	401  missing, invalid or expired token
//	403  caller is not a participant
//	404  conversation does not exist
//	409  a send with the same idempotency_key is still in flight
//
// # Idempotent Sends
//
// Send requests may carry an idempotency_key. The first request with a
// given key (per user and target) sends and answers 201; repeats within
// the dedupe TTL answer 200 with the original message instead of posting
// again. A failed send releases the key so the client can retry.
//
// # Push Channels
//
// Each socket carries exactly one subscription, so closing the socket is
// how a client unsubscribes. Frames are api.Frame JSON objects. The server
// pings every realtime.ping_interval and drops clients that stop answering
// or cannot keep up with their send buffer. On shutdown every socket is
// closed with 1001 (going away).
//
// # Rendering
//
// History requests with ?render=html add a body_html field produced by
// goldmark with GFM enabled. Raw HTML in message bodies is escaped.
//
// # Listeners
//
// Run listens on server.http_addr, or joins a tailnet with tsnet when
// tailscale.enabled is set and serves on port 80 there.
package gateway
