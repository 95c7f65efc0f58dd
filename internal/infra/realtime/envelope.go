// Package realtime carries messaging events from the backend to the
// synchronizer, over redis pub/sub or a websocket.
package realtime

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/messaging"
)

const (
	TypeMessage     = "message.new"
	TypeTypingStart = "typing.start"
	TypeTypingStop  = "typing.stop"
	TypeHeartbeat   = "h"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Channel is the pub/sub channel events for identity are published on.
func Channel(identity string) string {
	return "messaging:" + strings.ToLower(identity)
}

// Encode wraps payload in an envelope of the given type.
func Encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// Dispatch decodes one envelope and hands it to the matching handler.
func Dispatch(h messaging.Handlers, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.Wrap(err, "decode envelope")
	}

	switch env.Type {
	case TypeMessage:
		var m domainbay.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return errors.Wrap(err, "decode message")
		}
		if h.OnMessage != nil {
			h.OnMessage(m)
		}
	case TypeTypingStart, TypeTypingStop:
		var t domainbay.TypingEvent
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return errors.Wrap(err, "decode typing event")
		}
		t.IsTyping = env.Type == TypeTypingStart
		if t.IsTyping && h.OnTypingStart != nil {
			h.OnTypingStart(t)
		}
		if !t.IsTyping && h.OnTypingStop != nil {
			h.OnTypingStop(t)
		}
	case TypeHeartbeat:
	default:
		return errors.Errorf("unknown event type %q", env.Type)
	}
	return nil
}
