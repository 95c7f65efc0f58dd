package diagnostics

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/messaging"
)

const identity = "0x52908400098527886E0F7030069857D2E4169EE7"

var now = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func snapshot() messaging.Snapshot {
	return messaging.Snapshot{
		Identity: identity,
		Status:   messaging.StatusReady,
		OpenID:   "c1",
		Conversations: []domainbay.Conversation{
			{
				ID:          "c1",
				PeerAddress: "0xde709f2102306220921060314715629080e2fb77",
				State:       domainbay.ConversationActive,
				Metadata:    domainbay.ConversationMetadata{LastMessage: "secret", UnreadCount: 2, IsTyping: true},
			},
			{ID: "c2", State: domainbay.ConversationDiscovered, Metadata: domainbay.ConversationMetadata{UnreadCount: 1}},
		},
		UpdatedAt: now.Add(-time.Minute),
	}
}

func TestRecord(t *testing.T) {
	r := NewRecorder(func() time.Time { return now })
	snap := snapshot()

	rec := r.Record(snap, "0x52908400098527886e0f7030069857d2e4169ee7", domain.EnvironmentDevelopment)

	_, err := uuid.Parse(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, now, rec.CapturedAt)
	assert.Equal(t, identity, rec.Identity)
	assert.Equal(t, messaging.StatusReady, rec.Status)
	assert.Equal(t, 2, rec.ConversationCount)
	assert.Equal(t, 3, rec.TotalUnread)
	assert.Equal(t, []string{"c1"}, rec.Typing)
	assert.Equal(t, "c1", rec.OpenConversation)
	assert.False(t, rec.Disconnected)
	require.Len(t, rec.Conversations, 2)
	assert.Equal(t, 2, rec.Conversations[0].UnreadCount)

	// the snapshot is left alone
	assert.Equal(t, snapshot(), snap)

	data, err := rec.JSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "development", decoded["environment"])
}

func TestRecordIDsAreUnique(t *testing.T) {
	r := NewRecorder(nil)
	a := r.Record(snapshot(), identity, domain.EnvironmentProduction)
	b := r.Record(snapshot(), identity, domain.EnvironmentProduction)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestActionable(t *testing.T) {
	r := NewRecorder(nil)

	healthy := r.Record(snapshot(), identity, domain.EnvironmentProduction)
	assert.False(t, healthy.Actionable())

	assert.True(t, r.Record(snapshot(), identity, domain.EnvironmentStaging).Actionable())

	failed := snapshot()
	failed.Status = messaging.StatusError
	failed.Err = domain.SessionError{Reason: "event stream", Err: errors.New("closed")}
	rec := r.Record(failed, identity, domain.EnvironmentProduction)
	assert.True(t, rec.Actionable())
	assert.Contains(t, rec.Error, "closed")

	idle := messaging.Snapshot{Status: messaging.StatusIdle}
	rec = r.Record(idle, identity, domain.EnvironmentProduction)
	assert.True(t, rec.Disconnected)
	assert.True(t, rec.Actionable())
	assert.NotNil(t, rec.Typing)

	other := snapshot()
	other.Identity = "0xde709f2102306220921060314715629080e2fb77"
	assert.True(t, r.Record(other, identity, domain.EnvironmentProduction).Actionable())

	anonymous := r.Record(messaging.Snapshot{Status: messaging.StatusIdle}, "", domain.EnvironmentProduction)
	assert.False(t, anonymous.Actionable())
}
