// Package messaging keeps a live view of the conversations of one identity.
//
// The Synchronizer is the only writer of that view. Inbound events, local
// actions and timer expiries all go through a single reducer; readers get
// immutable snapshots.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

const DefaultTypingTimeout = 5 * time.Second

type Options struct {
	// TypingTimeout clears a typing flag when no stop event arrives.
	TypingTimeout time.Duration
	Clock         func() time.Time
	// AfterFunc schedules typing expiries. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Timer is the part of *time.Timer the synchronizer needs.
type Timer interface {
	Stop() bool
}

type eventKind int

const (
	evListed eventKind = iota
	evReady
	evMessage
	evTypingStart
	evTypingStop
	evTypingExpired
	evOpened
	evViewClosed
	evLeft
	evFailed
)

type event struct {
	kind           eventKind
	conversationID string
	remote         []domainbay.RemoteConversation
	message        domainbay.Message
	typing         domainbay.TypingEvent
	typingSeq      uint64
	err            error
}

type conversation struct {
	domainbay.Conversation
	typingSeq uint64
	timer     Timer
}

type Synchronizer struct {
	backend Backend
	source  EventSource
	opts    Options

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu        sync.Mutex
	gen       uint64
	identity  string
	status    Status
	err       error
	convs     map[string]*conversation
	openID    string
	updatedAt time.Time
	cancel    context.CancelFunc
	sub       Subscription
	listeners map[uint64]func(Snapshot)
	nextID    uint64
}

func NewSynchronizer(backend Backend, source EventSource, opts Options) *Synchronizer {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Synchronizer{
		backend:   backend,
		source:    source,
		opts:      opts,
		status:    StatusIdle,
		convs:     map[string]*conversation{},
		listeners: map[uint64]func(Snapshot){},
	}
}

// Start begins a session for identity, ending any previous one first. The
// returned error is also recorded in the snapshot.
func (s *Synchronizer) Start(ctx context.Context, identity string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.teardown()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.resetLocked()
	s.identity = domainbay.NormalizeAddress(identity)
	s.status = StatusSyncing
	s.updatedAt = s.opts.Clock()
	snap, listeners := s.changedLocked()
	s.mu.Unlock()
	notify(listeners, snap)

	slog.InfoContext(
		ctx, "starting messaging session",
		slog.String("identity", snap.Identity),
		slog.String("module", "messaging"),
	)

	remote, err := s.backend.ListConversations(ctx, snap.Identity)
	if err != nil {
		err = toSessionError("list conversations", err)
		s.apply(gen, event{kind: evFailed, err: err})
		return err
	}
	s.apply(gen, event{kind: evListed, remote: remote})

	// the subscription belongs to the session, not to the caller's request
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.source.Subscribe(sctx, snap.Identity, s.handlers(gen))
	if err != nil {
		cancel()
		err = toSessionError("subscribe", err)
		s.apply(gen, event{kind: evFailed, err: err})
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.sub = sub
	s.mu.Unlock()

	s.apply(gen, event{kind: evReady})
	return nil
}

// Stop ends the current session. Events still in flight for it are dropped.
func (s *Synchronizer) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.teardown()

	s.mu.Lock()
	s.gen++
	s.resetLocked()
	s.updatedAt = s.opts.Clock()
	snap, listeners := s.changedLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

// Open marks a conversation as the one being viewed, clearing its unread
// count. The backend is told on a best effort basis.
func (s *Synchronizer) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	gen, identity := s.gen, s.identity
	_, ok := s.convs[conversationID]
	s.mu.Unlock()
	if !ok {
		return domain.NotFoundError{Resource: "conversation " + conversationID}
	}

	s.apply(gen, event{kind: evOpened, conversationID: conversationID})

	if err := s.backend.MarkRead(ctx, identity, conversationID); err != nil {
		slog.WarnContext(
			ctx, "failed to mark conversation read",
			slog.String("conversation", conversationID),
			slog.String("error", err.Error()),
			slog.String("module", "messaging"),
		)
	}
	return nil
}

// CloseView clears the open conversation without leaving it.
func (s *Synchronizer) CloseView() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.apply(gen, event{kind: evViewClosed})
}

// Leave closes a conversation for good. Later events for it are ignored.
func (s *Synchronizer) Leave(conversationID string) error {
	s.mu.Lock()
	gen := s.gen
	_, ok := s.convs[conversationID]
	s.mu.Unlock()
	if !ok {
		return domain.NotFoundError{Resource: "conversation " + conversationID}
	}
	s.apply(gen, event{kind: evLeft, conversationID: conversationID})
	return nil
}

// Send forwards a message and records it locally once the backend accepts it.
func (s *Synchronizer) Send(ctx context.Context, conversationID, content string) (domainbay.Message, error) {
	s.mu.Lock()
	gen, identity, status := s.gen, s.identity, s.status
	c, ok := s.convs[conversationID]
	closed := ok && c.State == domainbay.ConversationClosed
	s.mu.Unlock()

	if status != StatusReady {
		return domainbay.Message{}, domain.SessionError{Reason: "no active session"}
	}
	if strings.TrimSpace(content) == "" {
		return domainbay.Message{}, domain.ValidationError{Field: "content", Message: "required"}
	}
	if closed {
		return domainbay.Message{}, domain.ValidationError{Field: "conversationId", Message: "conversation is closed"}
	}

	msg, err := s.backend.SendMessage(ctx, identity, conversationID, content)
	if err != nil {
		if errors.Is(err, domain.ErrSession) {
			s.apply(gen, event{kind: evFailed, err: err})
		}
		return domainbay.Message{}, err
	}

	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if msg.Sender == "" {
		msg.Sender = identity
	}
	if msg.Content == "" {
		msg.Content = content
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = s.opts.Clock()
	}
	s.apply(gen, event{kind: evMessage, message: msg})
	return msg, nil
}

// OnChange registers fn for every state change.
func (s *Synchronizer) OnChange(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) handlers(gen uint64) Handlers {
	return Handlers{
		OnMessage: func(m domainbay.Message) {
			s.apply(gen, event{kind: evMessage, message: m})
		},
		OnTypingStart: func(t domainbay.TypingEvent) {
			s.apply(gen, event{kind: evTypingStart, typing: t})
		},
		OnTypingStop: func(t domainbay.TypingEvent) {
			s.apply(gen, event{kind: evTypingStop, typing: t})
		},
		OnError: func(err error) {
			s.apply(gen, event{kind: evFailed, err: toSessionError("event stream", err)})
		},
	}
}

func (s *Synchronizer) teardown() {
	s.mu.Lock()
	cancel, sub := s.cancel, s.sub
	s.cancel, s.sub = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			slog.Debug(
				"failed to close subscription",
				slog.String("error", err.Error()),
				slog.String("module", "messaging"),
			)
		}
	}
}

func (s *Synchronizer) resetLocked() {
	for _, c := range s.convs {
		if c.timer != nil {
			c.timer.Stop()
		}
	}
	s.convs = map[string]*conversation{}
	s.identity = ""
	s.openID = ""
	s.status = StatusIdle
	s.err = nil
}

// apply is the single mutation path for conversation state.
func (s *Synchronizer) apply(gen uint64, ev event) {
	s.mu.Lock()
	if gen != s.gen || s.status == StatusIdle || s.status == StatusError {
		s.mu.Unlock()
		return
	}
	if !s.reduceLocked(gen, ev) {
		s.mu.Unlock()
		return
	}
	s.updatedAt = s.opts.Clock()
	snap, listeners := s.changedLocked()
	s.mu.Unlock()
	notify(listeners, snap)
}

func (s *Synchronizer) reduceLocked(gen uint64, ev event) bool {
	switch ev.kind {
	case evListed:
		for _, r := range ev.remote {
			if _, ok := s.convs[r.ID]; ok {
				continue
			}
			s.convs[r.ID] = s.project(r)
		}
		return true

	case evReady:
		if s.status != StatusSyncing {
			return false
		}
		s.status = StatusReady
		return true

	case evMessage:
		return s.reduceMessage(ev.message)

	case evTypingStart:
		c := s.discover(ev.typing.ConversationID, ev.typing.Sender)
		if c == nil || domainbay.SameAddress(ev.typing.Sender, s.identity) {
			return false
		}
		c.Metadata.IsTyping = true
		c.typingSeq++
		if c.timer != nil {
			c.timer.Stop()
		}
		id, seq := c.ID, c.typingSeq
		c.timer = s.opts.AfterFunc(s.opts.TypingTimeout, func() {
			s.apply(gen, event{kind: evTypingExpired, conversationID: id, typingSeq: seq})
		})
		return true

	case evTypingStop:
		c, ok := s.convs[ev.typing.ConversationID]
		if !ok || !c.Metadata.IsTyping {
			return false
		}
		s.clearTyping(c)
		return true

	case evTypingExpired:
		c, ok := s.convs[ev.conversationID]
		if !ok || c.typingSeq != ev.typingSeq || !c.Metadata.IsTyping {
			return false
		}
		s.clearTyping(c)
		return true

	case evOpened:
		c, ok := s.convs[ev.conversationID]
		if !ok || c.State == domainbay.ConversationClosed {
			return false
		}
		s.openID = c.ID
		c.State = domainbay.ConversationActive
		c.Metadata.UnreadCount = 0
		return true

	case evViewClosed:
		if s.openID == "" {
			return false
		}
		s.openID = ""
		return true

	case evLeft:
		c, ok := s.convs[ev.conversationID]
		if !ok || c.State == domainbay.ConversationClosed {
			return false
		}
		s.clearTyping(c)
		c.State = domainbay.ConversationClosed
		if s.openID == c.ID {
			s.openID = ""
		}
		return true

	case evFailed:
		s.status = StatusError
		s.err = ev.err
		slog.Warn(
			"messaging session failed",
			slog.String("identity", s.identity),
			slog.String("error", ev.err.Error()),
			slog.String("module", "messaging"),
		)
		return true
	}
	return false
}

func (s *Synchronizer) reduceMessage(m domainbay.Message) bool {
	c := s.discover(m.ConversationID, m.Sender)
	if c == nil {
		return false
	}
	if m.ID != "" && m.ID == c.Metadata.LastMessageID {
		return false
	}
	// older or equal timestamps never overwrite newer metadata
	if !m.SentAt.After(c.Metadata.LastMessageTime) {
		return false
	}

	c.Metadata.LastMessage = m.Content
	c.Metadata.LastMessageID = m.ID
	c.Metadata.LastMessageTime = m.SentAt
	if c.State == domainbay.ConversationDiscovered {
		c.State = domainbay.ConversationActive
	}

	if !domainbay.SameAddress(m.Sender, s.identity) {
		if s.openID != c.ID {
			c.Metadata.UnreadCount++
		}
		s.clearTyping(c)
	}
	return true
}

// discover returns the conversation for id, creating it when an event names
// a conversation the initial list did not contain. Closed conversations
// yield nil.
func (s *Synchronizer) discover(id, sender string) *conversation {
	if id == "" {
		return nil
	}
	c, ok := s.convs[id]
	if !ok {
		members := []string{s.identity}
		if sender != "" && !domainbay.SameAddress(sender, s.identity) {
			members = append(members, domainbay.NormalizeAddress(sender))
		}
		c = s.project(domainbay.RemoteConversation{ID: id, Members: members})
		s.convs[id] = c
	}
	if c.State == domainbay.ConversationClosed {
		return nil
	}
	return c
}

func (s *Synchronizer) clearTyping(c *conversation) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.typingSeq++
	c.Metadata.IsTyping = false
}

func (s *Synchronizer) project(r domainbay.RemoteConversation) *conversation {
	members := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		members = append(members, domainbay.NormalizeAddress(m))
	}

	c := &conversation{
		Conversation: domainbay.Conversation{
			ID:          r.ID,
			PeerAddress: PeerOf(members, s.identity),
			Members:     members,
			State:       domainbay.ConversationDiscovered,
			Metadata: domainbay.ConversationMetadata{
				UnreadCount: r.UnreadCount,
			},
		},
	}
	if r.LastMessage != nil {
		c.Metadata.LastMessage = r.LastMessage.Content
		c.Metadata.LastMessageID = r.LastMessage.ID
		c.Metadata.LastMessageTime = r.LastMessage.SentAt
		c.State = domainbay.ConversationActive
	}
	return c
}

// PeerOf is the first member that is not self.
func PeerOf(members []string, self string) string {
	for _, m := range members {
		if !domainbay.SameAddress(m, self) {
			return domainbay.NormalizeAddress(m)
		}
	}
	return ""
}

func toSessionError(reason string, err error) error {
	if errors.Is(err, domain.ErrSession) {
		return err
	}
	return domain.SessionError{Reason: reason, Err: err}
}

func (s *Synchronizer) changedLocked() (Snapshot, []func(Snapshot)) {
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return s.snapshotLocked(), listeners
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	convs := make([]domainbay.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		conv := c.Conversation
		conv.Members = slices.Clone(c.Members)
		convs = append(convs, conv)
	}
	slices.SortFunc(convs, func(a, b domainbay.Conversation) int {
		if c := b.Metadata.LastMessageTime.Compare(a.Metadata.LastMessageTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return Snapshot{
		Identity:      s.identity,
		Status:        s.status,
		Err:           s.err,
		OpenID:        s.openID,
		Conversations: convs,
		UpdatedAt:     s.updatedAt,
	}
}
