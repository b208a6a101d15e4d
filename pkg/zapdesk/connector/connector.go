// Package connector defines the contract between the session manager and a
// messaging connector. One connector instance is bound to exactly one
// session; it emits lifecycle and message events through an EventHandler and
// accepts outbound commands.
package connector

import (
	"context"
	"fmt"
	"time"
)

// Connector is one session's connection to the messaging platform.
type Connector interface {
	// SetHandler registers the event handler. Must be called before Start.
	SetHandler(h EventHandler)

	// Start establishes the connection. Lifecycle progress after a
	// successful Start is reported through the handler, not return values.
	Start(ctx context.Context) error

	// Destroy tears the connection down and releases its resources.
	// Destroy may block while the platform connection drains.
	Destroy(ctx context.Context) error

	// SendComposing shows a typing indicator in the given conversation.
	// Best-effort: callers ignore failures.
	SendComposing(ctx context.Context, conversationID string) error

	// SendReply sends text as a quoted reply to the referenced inbound
	// message, falling back to a plain message when the reference is empty.
	SendReply(ctx context.Context, ref MessageRef, text string) error
}

// EventHandler receives connector events. Implementations must be safe for
// use from the connector's event-delivery goroutine.
type EventHandler interface {
	// OnChallenge reports a pairing challenge (QR payload) to display.
	OnChallenge(payload string)

	// OnAuthenticated reports successful authentication (device paired).
	OnAuthenticated()

	// OnOnline reports the session fully connected and receiving messages.
	OnOnline()

	// OnAuthFailure reports an authentication failure.
	OnAuthFailure(reason string)

	// OnDisconnected reports a dropped connection. Sessions may reconnect
	// and report OnOnline again without being recreated.
	OnDisconnected(reason string)

	// OnMessage delivers one inbound message.
	OnMessage(msg *Message)
}

// Message is an inbound message event.
type Message struct {
	// Ref identifies the message for reply correlation.
	Ref MessageRef

	// From is the remote party (conversation) identifier.
	From string

	// Body is the text content.
	Body string

	// IsSelf marks messages sent by this session's own account.
	IsSelf bool

	// IsBroadcast marks ephemeral status-broadcast traffic.
	IsBroadcast bool

	// Timestamp is when the platform recorded the message.
	Timestamp time.Time
}

// MessageRef carries the platform identifiers needed to address a quoted
// reply at a specific inbound message.
type MessageRef struct {
	// Chat is the conversation identifier the message belongs to.
	Chat string

	// ID is the platform message identifier.
	ID string

	// Sender is the authoring participant (differs from Chat in groups).
	Sender string

	// Body is the original text, quoted back in replies.
	Body string
}

// Factory constructs a connector bound to a session id.
type Factory func(sessionID string) (Connector, error)

// ErrNotConnected is returned by outbound operations on a connector whose
// platform connection is down.
var ErrNotConnected = fmt.Errorf("connector is not connected")
