// Package client is the HTTP and WebSocket client for an inbox gateway.
//
// # Overview
//
// Client implements inbox.Backend, so a ConversationStore or MessageStream
// can run in a separate process from the gateway:
//
//	c := client.New("https://inbox.example.ts.net", token)
//	stream := inbox.NewMessageStream(c, userID, logger)
//
// The gateway identifies the caller from the bearer token. The user IDs
// passed through the Backend methods must match it; they are not sent.
//
// # Errors
//
// Any non-2xx response, including a refused WebSocket handshake, is
// returned as *APIError carrying the HTTP status and the gateway's error
// message. Nothing is retried.
//
// # Subscriptions
//
// Every subscription owns one WebSocket. Close sends a normal close frame
// and returns without waiting; Done closes once the read loop has exited.
// When the gateway goes away or the connection breaks, Err wraps
// ErrSubscriptionDropped and the cause.
//
// # Extras
//
// Beyond the Backend contract, StartConversation, Send (with an optional
// idempotency key), History (single pages, optionally rendered to HTML)
// and Ready are used by the inbox CLI.
package client
