package ports

import "context"

// Conversation is the opaque request/response session with the instrument
// driver. Every call is synchronous; a hung driver blocks the caller.
type Conversation interface {
	ConnectTo(service, topic string) error
	Request(item string) (string, error)
	Close() error
}

// ConversationDialer opens a fresh Conversation. The daemon dials once at
// startup and once more after launching the driver, never mid-session.
type ConversationDialer interface {
	Dial(ctx context.Context) (Conversation, error)
}

// DialerFunc adapts a plain function to the ConversationDialer port.
type DialerFunc func(ctx context.Context) (Conversation, error)

func (f DialerFunc) Dial(ctx context.Context) (Conversation, error) { return f(ctx) }
