// Package diagnostics captures the messaging state for support and debugging.
package diagnostics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/messaging"
)

type ConversationSummary struct {
	ID              string                      `json:"id"`
	PeerAddress     string                      `json:"peerAddress"`
	State           domainbay.ConversationState `json:"state"`
	UnreadCount     int                         `json:"unreadCount"`
	IsTyping        bool                        `json:"isTyping"`
	LastMessageTime time.Time                   `json:"lastMessageTime"`
}

type Record struct {
	ID                string                `json:"id"`
	CapturedAt        time.Time             `json:"capturedAt"`
	Identity          string                `json:"identity"`
	SessionIdentity   string                `json:"sessionIdentity"`
	Environment       domain.Environment    `json:"environment"`
	Status            messaging.Status      `json:"status"`
	Error             string                `json:"error,omitempty"`
	Disconnected      bool                  `json:"disconnected"`
	ConversationCount int                   `json:"conversationCount"`
	TotalUnread       int                   `json:"totalUnread"`
	Typing            []string              `json:"typing"`
	OpenConversation  string                `json:"openConversation,omitempty"`
	LastUpdate        time.Time             `json:"lastUpdate"`
	Conversations     []ConversationSummary `json:"conversations"`
}

// Actionable reports whether the record is worth showing: always outside
// production, and in production only when something is wrong.
func (r Record) Actionable() bool {
	if r.Environment != domain.EnvironmentProduction {
		return true
	}
	return r.Status == messaging.StatusError || r.Disconnected
}

// JSON renders the record for export.
func (r Record) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

type Recorder struct {
	clock func() time.Time
}

func NewRecorder(clock func() time.Time) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{
		clock: clock,
	}
}

// Record only reads the snapshot it is given.
func (r *Recorder) Record(snap messaging.Snapshot, identity string, env domain.Environment) Record {
	identity = domainbay.NormalizeAddress(identity)

	summaries := make([]ConversationSummary, 0, len(snap.Conversations))
	for _, c := range snap.Conversations {
		summaries = append(summaries, ConversationSummary{
			ID:              c.ID,
			PeerAddress:     c.PeerAddress,
			State:           c.State,
			UnreadCount:     c.Metadata.UnreadCount,
			IsTyping:        c.Metadata.IsTyping,
			LastMessageTime: c.Metadata.LastMessageTime,
		})
	}

	return Record{
		ID:                uuid.NewString(),
		CapturedAt:        r.clock(),
		Identity:          identity,
		SessionIdentity:   snap.Identity,
		Environment:       env,
		Status:            snap.Status,
		Error:             snap.ErrorMessage(),
		Disconnected:      disconnected(snap, identity),
		ConversationCount: len(snap.Conversations),
		TotalUnread:       snap.TotalUnread(),
		Typing:            snap.Typing(),
		OpenConversation:  snap.OpenID,
		LastUpdate:        snap.UpdatedAt,
		Conversations:     summaries,
	}
}

// disconnected is true when a signed-in identity has no live session, or the
// session belongs to someone else.
func disconnected(snap messaging.Snapshot, identity string) bool {
	if identity == "" {
		return false
	}
	if snap.Status == messaging.StatusIdle {
		return true
	}
	return !domainbay.SameAddress(snap.Identity, identity)
}
