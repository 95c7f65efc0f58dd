package messaging

import (
	"context"

	"github.com/totegamma/domainbay"
)

// Backend is the request/response side of the messaging service.
type Backend interface {
	ListConversations(ctx context.Context, identity string) ([]domainbay.RemoteConversation, error)
	SendMessage(ctx context.Context, identity, conversationID, content string) (domainbay.Message, error)
	MarkRead(ctx context.Context, identity, conversationID string) error
}

// Handlers receive inbound events, one callback per event type. OnError is
// called once when the stream fails; nothing is delivered after it.
type Handlers struct {
	OnMessage     func(domainbay.Message)
	OnTypingStart func(domainbay.TypingEvent)
	OnTypingStop  func(domainbay.TypingEvent)
	OnError       func(error)
}

// EventSource streams inbound events for one identity.
type EventSource interface {
	Subscribe(ctx context.Context, identity string, h Handlers) (Subscription, error)
}

type Subscription interface {
	Close() error
}
