package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/client"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/messaging"
)

// MessagingGateway is the request/response leg of the messaging backend.
// Live events arrive separately through a realtime source.
type MessagingGateway struct {
	client  *client.Client
	baseURL string
}

func NewMessagingGateway(cl *client.Client, baseURL string) *MessagingGateway {
	return &MessagingGateway{
		client:  cl,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (g *MessagingGateway) ListConversations(ctx context.Context, identity string) ([]domainbay.RemoteConversation, error) {
	ctx, span := tracer.Start(ctx, "Gateway.ListConversations")
	defer span.End()

	var res struct {
		Conversations []domainbay.RemoteConversation `json:"conversations"`
	}
	err := g.client.GetJSON(ctx, g.baseURL+"/conversations", nil, &res, identityHeader(identity))
	if err != nil {
		span.RecordError(err)
		return nil, sessionError("list conversations", err)
	}
	return res.Conversations, nil
}

func (g *MessagingGateway) SendMessage(ctx context.Context, identity, conversationID, content string) (domainbay.Message, error) {
	ctx, span := tracer.Start(ctx, "Gateway.SendMessage")
	defer span.End()

	body := map[string]string{
		"clientId": uuid.NewString(),
		"content":  content,
	}

	var msg domainbay.Message
	err := g.client.PostJSON(ctx, g.conversationURL(conversationID, "messages"), body, &msg, identityHeader(identity))
	if err != nil {
		span.RecordError(err)
		return domainbay.Message{}, sessionError("send message", err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return msg, nil
}

func (g *MessagingGateway) MarkRead(ctx context.Context, identity, conversationID string) error {
	ctx, span := tracer.Start(ctx, "Gateway.MarkRead")
	defer span.End()

	err := g.client.PostJSON(ctx, g.conversationURL(conversationID, "read"), struct{}{}, nil, identityHeader(identity))
	if err != nil {
		span.RecordError(err)
		return sessionError("mark read", err)
	}
	return nil
}

func (g *MessagingGateway) conversationURL(id, action string) string {
	return g.baseURL + "/conversations/" + url.PathEscape(id) + "/" + action
}

func identityHeader(identity string) client.RequestOption {
	return client.WithRequestHeader(domain.IdentityHeader, domainbay.NormalizeAddress(identity))
}

// sessionError maps transport failures and rejected credentials to a
// SessionError; other backend errors pass through unchanged.
func sessionError(reason string, err error) error {
	if errors.Is(err, domain.ErrNetwork) {
		return &domain.GatewayError{Op: reason, Err: domain.SessionError{Reason: reason, Err: err}}
	}
	var be domain.BackendError
	if errors.As(err, &be) && (be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden) {
		return &domain.GatewayError{Op: reason, Err: domain.SessionError{Reason: "unauthorized", Err: err}}
	}
	return &domain.GatewayError{Op: reason, Err: err}
}

var _ messaging.Backend = (*MessagingGateway)(nil)
