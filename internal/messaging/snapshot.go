package messaging

import (
	"time"

	"github.com/totegamma/domainbay"
)

// Snapshot is an immutable copy of the synchronizer state. Conversations are
// ordered by most recent message first.
type Snapshot struct {
	Identity      string                   `json:"identity"`
	Status        Status                   `json:"status"`
	Err           error                    `json:"-"`
	OpenID        string                   `json:"openId,omitempty"`
	Conversations []domainbay.Conversation `json:"conversations"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

func (s Snapshot) Conversation(id string) (domainbay.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return domainbay.Conversation{}, false
}

func (s Snapshot) TotalUnread() int {
	total := 0
	for _, c := range s.Conversations {
		total += c.Metadata.UnreadCount
	}
	return total
}

// Typing lists the conversations where the peer is currently typing.
func (s Snapshot) Typing() []string {
	ids := []string{}
	for _, c := range s.Conversations {
		if c.Metadata.IsTyping {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
