package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/messaging"
)

const defaultHeartbeat = 30 * time.Second

type listenRequest struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

type WebSocketSource struct {
	url       string
	dialer    *websocket.Dialer
	heartbeat time.Duration
}

type WebSocketOption func(*WebSocketSource)

// WithHeartbeat sets how often a heartbeat frame is sent. Zero or less
// disables it.
func WithHeartbeat(d time.Duration) WebSocketOption {
	return func(s *WebSocketSource) {
		s.heartbeat = d
	}
}

func NewWebSocketSource(url string, opts ...WebSocketOption) *WebSocketSource {
	s := &WebSocketSource{
		url:       url,
		dialer:    websocket.DefaultDialer,
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ messaging.EventSource = (*WebSocketSource)(nil)

func (s *WebSocketSource) Subscribe(ctx context.Context, identity string, h messaging.Handlers) (messaging.Subscription, error) {
	header := http.Header{}
	header.Set(domain.IdentityHeader, identity)

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return nil, domain.NetworkError{Op: "websocket dial", Err: err}
	}

	if err := conn.WriteJSON(listenRequest{Type: "listen", Identity: identity}); err != nil {
		conn.Close()
		return nil, domain.NetworkError{Op: "websocket listen", Err: err}
	}

	sub := &wsSubscription{
		conn: conn,
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	stop := context.AfterFunc(ctx, func() { sub.Close() })
	go func() {
		defer stop()
		sub.run(ctx, h)
	}()
	if s.heartbeat > 0 {
		go sub.keepalive(ctx, s.heartbeat)
	}

	return sub, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	quit   chan struct{}
}

func (s *wsSubscription) run(ctx context.Context, h messaging.Handlers) {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			wsErr, ok := err.(*websocket.CloseError)
			if ok {
				slog.DebugContext(
					ctx, "websocket closed by peer",
					slog.Int("code", wsErr.Code),
					slog.String("module", "realtime"),
				)
			}
			if h.OnError != nil {
				h.OnError(domain.NetworkError{Op: "websocket read", Err: err})
			}
			return
		}
		if s.closed.Load() {
			return
		}
		if err := Dispatch(h, data); err != nil {
			slog.WarnContext(
				ctx, "dropping malformed event",
				slog.String("error", err.Error()),
				slog.String("module", "realtime"),
			)
		}
	}
}

func (s *wsSubscription) keepalive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.wmu.Lock()
			err := s.conn.WriteJSON(Envelope{Type: TypeHeartbeat})
			s.wmu.Unlock()
			if err != nil {
				slog.DebugContext(
					ctx, "heartbeat failed",
					slog.String("error", err.Error()),
					slog.String("module", "realtime"),
				)
				return
			}
		}
	}
}

// Close stops delivery. No handler runs after it returns.
func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.quit)

		s.wmu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.wmu.Unlock()

		err = s.conn.Close()
		<-s.done
	})
	return err
}
