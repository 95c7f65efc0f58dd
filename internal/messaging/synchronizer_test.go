package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
)

const (
	self = "0x52908400098527886E0F7030069857D2E4169EE7"
	peer = "0xde709f2102306220921060314715629080e2fb77"
)

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type mockBackend struct {
	mu      sync.Mutex
	remote  []domainbay.RemoteConversation
	listErr error
	sendErr error
	read    []string
}

func (m *mockBackend) ListConversations(ctx context.Context, identity string) ([]domainbay.RemoteConversation, error) {
	return m.remote, m.listErr
}

func (m *mockBackend) SendMessage(ctx context.Context, identity, conversationID, content string) (domainbay.Message, error) {
	if m.sendErr != nil {
		return domainbay.Message{}, m.sendErr
	}
	return domainbay.Message{ID: "sent-1", Content: content, SentAt: base.Add(time.Hour)}, nil
}

func (m *mockBackend) MarkRead(ctx context.Context, identity, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, conversationID)
	return nil
}

type mockSource struct {
	mu       sync.Mutex
	handlers []Handlers
	closed   int
	err      error
}

func (m *mockSource) Subscribe(ctx context.Context, identity string, h Handlers) (Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	return &mockSubscription{source: m}, nil
}

func (m *mockSource) latest() Handlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[len(m.handlers)-1]
}

type mockSubscription struct {
	source *mockSource
}

func (s *mockSubscription) Close() error {
	s.source.mu.Lock()
	defer s.source.mu.Unlock()
	s.source.closed++
	return nil
}

func message(id, conv, sender, content string, at time.Time) domainbay.Message {
	return domainbay.Message{ID: id, ConversationID: conv, Sender: sender, Content: content, SentAt: at}
}

func startSync(t *testing.T, opts Options) (*Synchronizer, *mockBackend, *mockSource) {
	t.Helper()
	backend := &mockBackend{
		remote: []domainbay.RemoteConversation{
			{
				ID:          "c1",
				Members:     []string{"0x52908400098527886e0f7030069857d2e4169ee7", peer},
				LastMessage: &domainbay.Message{ID: "m0", Sender: peer, Content: "hello", SentAt: base},
				UnreadCount: 1,
			},
			{ID: "c2", Members: []string{self}},
		},
	}
	source := &mockSource{}
	s := NewSynchronizer(backend, source, opts)
	require.NoError(t, s.Start(context.Background(), self))
	return s, backend, source
}

func conv(t *testing.T, s *Synchronizer, id string) domainbay.Conversation {
	t.Helper()
	c, ok := s.Snapshot().Conversation(id)
	require.True(t, ok, "conversation %s missing", id)
	return c
}

func TestStartProjectsConversations(t *testing.T) {
	s, _, _ := startSync(t, Options{})
	snap := s.Snapshot()

	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, self, snap.Identity)
	require.Len(t, snap.Conversations, 2)

	c1 := conv(t, s, "c1")
	assert.Equal(t, peer, c1.PeerAddress)
	assert.Equal(t, domainbay.ConversationActive, c1.State)
	assert.Equal(t, "hello", c1.Metadata.LastMessage)
	assert.Equal(t, 1, c1.Metadata.UnreadCount)

	c2 := conv(t, s, "c2")
	assert.Equal(t, domainbay.ConversationDiscovered, c2.State)
	assert.Empty(t, c2.PeerAddress)

	assert.Equal(t, "c1", snap.Conversations[0].ID)
}

func TestOlderMessageDoesNotOverwrite(t *testing.T) {
	s, _, source := startSync(t, Options{})
	h := source.latest()

	h.OnMessage(message("m2", "c1", peer, "newer", base.Add(2*time.Minute)))
	h.OnMessage(message("m1", "c1", peer, "older", base.Add(time.Minute)))
	h.OnMessage(message("m3", "c1", peer, "same time", base.Add(2*time.Minute)))
	h.OnMessage(message("m2", "c1", peer, "newer", base.Add(2*time.Minute)))

	c1 := conv(t, s, "c1")
	assert.Equal(t, "newer", c1.Metadata.LastMessage)
	assert.Equal(t, base.Add(2*time.Minute), c1.Metadata.LastMessageTime)
	assert.Equal(t, 2, c1.Metadata.UnreadCount)
}

func TestUnreadCounting(t *testing.T) {
	s, backend, source := startSync(t, Options{})
	h := source.latest()

	h.OnMessage(message("m1", "c1", peer, "one", base.Add(time.Minute)))
	assert.Equal(t, 2, conv(t, s, "c1").Metadata.UnreadCount)

	require.NoError(t, s.Open(context.Background(), "c1"))
	assert.Equal(t, 0, conv(t, s, "c1").Metadata.UnreadCount)
	assert.Equal(t, []string{"c1"}, backend.read)
	assert.Equal(t, "c1", s.Snapshot().OpenID)

	h.OnMessage(message("m2", "c1", peer, "two", base.Add(2*time.Minute)))
	assert.Equal(t, 0, conv(t, s, "c1").Metadata.UnreadCount)

	s.CloseView()
	h.OnMessage(message("m3", "c1", peer, "three", base.Add(3*time.Minute)))
	h.OnMessage(message("m4", "c1", self, "mine", base.Add(4*time.Minute)))
	assert.Equal(t, 1, conv(t, s, "c1").Metadata.UnreadCount)
	assert.Equal(t, 1, s.Snapshot().TotalUnread())

	assert.ErrorIs(t, s.Open(context.Background(), "nope"), domain.ErrNotFound)
}

func TestTypingStartStop(t *testing.T) {
	s, _, source := startSync(t, Options{})
	h := source.latest()

	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: peer, IsTyping: true})
	assert.True(t, conv(t, s, "c1").Metadata.IsTyping)
	assert.Equal(t, []string{"c1"}, s.Snapshot().Typing())

	h.OnTypingStop(domainbay.TypingEvent{ConversationID: "c1", Sender: peer})
	assert.False(t, conv(t, s, "c1").Metadata.IsTyping)

	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: self, IsTyping: true})
	assert.False(t, conv(t, s, "c1").Metadata.IsTyping)
}

// fakeTimers fires scheduled funcs only when the test advances time.
type fakeTimers struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	owner *fakeTimers
	at    time.Duration
	fn    func()
	done  bool
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{owner: f, at: f.now + d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}

func (f *fakeTimers) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	var due []func()
	for _, t := range f.timers {
		if !t.done && t.at <= f.now {
			t.done = true
			due = append(due, t.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

func TestTypingTimeout(t *testing.T) {
	timers := &fakeTimers{}
	s, _, source := startSync(t, Options{TypingTimeout: 5 * time.Second, AfterFunc: timers.AfterFunc})
	h := source.latest()

	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: peer, IsTyping: true})
	assert.True(t, conv(t, s, "c1").Metadata.IsTyping)

	timers.Advance(4 * time.Second)
	assert.True(t, conv(t, s, "c1").Metadata.IsTyping)

	timers.Advance(time.Second)
	assert.False(t, conv(t, s, "c1").Metadata.IsTyping)
	assert.Empty(t, s.Snapshot().Typing())
}

func TestTypingRestartExtendsTimeout(t *testing.T) {
	timers := &fakeTimers{}
	s, _, source := startSync(t, Options{TypingTimeout: 5 * time.Second, AfterFunc: timers.AfterFunc})
	h := source.latest()

	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: peer, IsTyping: true})
	timers.Advance(3 * time.Second)
	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: peer, IsTyping: true})
	timers.Advance(3 * time.Second)

	assert.True(t, conv(t, s, "c1").Metadata.IsTyping)

	timers.Advance(2 * time.Second)
	assert.False(t, conv(t, s, "c1").Metadata.IsTyping)
}

func TestTypingStopCancelsExpiry(t *testing.T) {
	timers := &fakeTimers{}
	s, _, source := startSync(t, Options{TypingTimeout: 5 * time.Second, AfterFunc: timers.AfterFunc})
	h := source.latest()

	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: peer, IsTyping: true})
	h.OnTypingStop(domainbay.TypingEvent{ConversationID: "c1", Sender: peer})
	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: peer, IsTyping: true})

	// only the latest start may expire, and only at its own deadline
	timers.Advance(4 * time.Second)
	assert.True(t, conv(t, s, "c1").Metadata.IsTyping)
}

func TestInboundMessageClearsTyping(t *testing.T) {
	s, _, source := startSync(t, Options{})
	h := source.latest()

	h.OnTypingStart(domainbay.TypingEvent{ConversationID: "c1", Sender: peer, IsTyping: true})
	h.OnMessage(message("m1", "c1", peer, "done typing", base.Add(time.Minute)))

	assert.False(t, conv(t, s, "c1").Metadata.IsTyping)
}

func TestUnknownConversationIsDiscovered(t *testing.T) {
	s, _, source := startSync(t, Options{})

	source.latest().OnMessage(message("x1", "c9", peer, "new thread", base.Add(time.Minute)))

	c9 := conv(t, s, "c9")
	assert.Equal(t, domainbay.ConversationActive, c9.State)
	assert.Equal(t, peer, c9.PeerAddress)
	assert.Equal(t, 1, c9.Metadata.UnreadCount)
	assert.Equal(t, "c9", s.Snapshot().Conversations[0].ID)
}

func TestStopDropsEventsFromOldSession(t *testing.T) {
	s, _, source := startSync(t, Options{})
	old := source.latest()

	s.Stop()
	assert.Equal(t, StatusIdle, s.Snapshot().Status)
	assert.Empty(t, s.Snapshot().Conversations)
	assert.Equal(t, 1, source.closed)

	require.NoError(t, s.Start(context.Background(), peer))
	old.OnMessage(message("late", "c1", peer, "stale", base.Add(time.Hour)))

	c1 := conv(t, s, "c1")
	assert.Equal(t, "hello", c1.Metadata.LastMessage)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", c1.PeerAddress)
}

func TestRestartTearsDownPreviousSubscription(t *testing.T) {
	s, _, source := startSync(t, Options{})
	require.NoError(t, s.Start(context.Background(), self))
	assert.Equal(t, 1, source.closed)
	assert.Len(t, source.handlers, 2)
}

func TestListFailureIsSessionError(t *testing.T) {
	backend := &mockBackend{listErr: domain.NetworkError{Op: "list", Err: errors.New("refused")}}
	source := &mockSource{}
	s := NewSynchronizer(backend, source, Options{})

	err := s.Start(context.Background(), self)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSession))

	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.True(t, errors.Is(snap.Err, domain.ErrSession))
	assert.Empty(t, source.handlers)
}

func TestStreamErrorStopsDelivery(t *testing.T) {
	s, _, source := startSync(t, Options{})
	h := source.latest()

	h.OnError(errors.New("socket closed"))
	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.True(t, errors.Is(snap.Err, domain.ErrSession))
	assert.NotEmpty(t, snap.ErrorMessage())

	h.OnMessage(message("m1", "c1", peer, "after error", base.Add(time.Minute)))
	assert.Equal(t, "hello", conv(t, s, "c1").Metadata.LastMessage)

	_, err := s.Send(context.Background(), "c1", "hi")
	assert.True(t, errors.Is(err, domain.ErrSession))
}

func TestLeaveIsTerminal(t *testing.T) {
	s, _, source := startSync(t, Options{})

	require.NoError(t, s.Leave("c1"))
	assert.Equal(t, domainbay.ConversationClosed, conv(t, s, "c1").State)

	source.latest().OnMessage(message("m1", "c1", peer, "ignored", base.Add(time.Minute)))
	assert.Equal(t, "hello", conv(t, s, "c1").Metadata.LastMessage)

	_, err := s.Send(context.Background(), "c1", "hi")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSendRecordsOwnMessage(t *testing.T) {
	s, _, _ := startSync(t, Options{})

	msg, err := s.Send(context.Background(), "c2", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "c2", msg.ConversationID)
	assert.Equal(t, self, msg.Sender)

	c2 := conv(t, s, "c2")
	assert.Equal(t, "hi there", c2.Metadata.LastMessage)
	assert.Equal(t, 0, c2.Metadata.UnreadCount)
	assert.Equal(t, domainbay.ConversationActive, c2.State)
}

func TestSendSessionFailureMovesToError(t *testing.T) {
	s, backend, _ := startSync(t, Options{})
	backend.sendErr = domain.SessionError{Reason: "unauthorized"}

	_, err := s.Send(context.Background(), "c1", "hi")
	assert.True(t, errors.Is(err, domain.ErrSession))
	assert.Equal(t, StatusError, s.Snapshot().Status)
}

func TestOnChange(t *testing.T) {
	s, _, source := startSync(t, Options{})

	var mu sync.Mutex
	var seen []Snapshot
	cancel := s.OnChange(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, snap)
	})

	source.latest().OnMessage(message("m1", "c1", peer, "ping", base.Add(time.Minute)))
	cancel()
	source.latest().OnMessage(message("m2", "c1", peer, "pong", base.Add(2*time.Minute)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	c1, ok := seen[0].Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, "ping", c1.Metadata.LastMessage)
}
