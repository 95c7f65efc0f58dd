package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/domainbay/client"
	"github.com/totegamma/domainbay/internal/domain"
)

const alice = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestMessagingGateway(t *testing.T) {
	var readPath, identity string
	var sent map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		identity = r.Header.Get(domain.IdentityHeader)
		_, _ = w.Write([]byte(`{"conversations":[{"id":"c1","members":["` + alice + `","0xde709f2102306220921060314715629080e2fb77"]}]}`))
	})
	mux.HandleFunc("/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&sent)
		_, _ = w.Write([]byte(`{"id":"m1","sender":"` + alice + `","content":"hi","sentAt":"2025-01-01T00:00:00Z"}`))
	})
	mux.HandleFunc("/conversations/c1/read", func(w http.ResponseWriter, r *http.Request) {
		readPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewMessagingGateway(client.New(), srv.URL+"/")
	ctx := context.Background()

	convs, err := g.ListConversations(ctx, "0x52908400098527886e0f7030069857d2e4169ee7")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
	assert.Equal(t, alice, identity)

	msg, err := g.SendMessage(ctx, alice, "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Equal(t, "hi", sent["content"])
	assert.NotEmpty(t, sent["clientId"])

	require.NoError(t, g.MarkRead(ctx, alice, "c1"))
	assert.Equal(t, "/conversations/c1/read", readPath)
}

func TestMessagingGatewayUnauthorizedIsSessionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewMessagingGateway(client.New(), srv.URL)
	_, err := g.ListConversations(context.Background(), alice)
	assert.True(t, errors.Is(err, domain.ErrSession))
	assert.True(t, domain.IsGatewayError(err))
}

func TestMessagingGatewayServerErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewMessagingGateway(client.New(), srv.URL)
	err := g.MarkRead(context.Background(), alice, "c1")
	assert.True(t, errors.Is(err, domain.ErrBackend))
	assert.False(t, errors.Is(err, domain.ErrSession))
}
