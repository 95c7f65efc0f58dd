package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/diagnostics"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/interface/rest/middleware"
	"github.com/totegamma/domainbay/internal/interface/rest/presenter"
	"github.com/totegamma/domainbay/internal/messaging"
	"github.com/totegamma/domainbay/internal/querykey"
	"github.com/totegamma/domainbay/internal/usecase"
)

// EventPublisher injects messaging events for a given identity. Only wired
// outside production.
type EventPublisher interface {
	Publish(ctx context.Context, identity, eventType string, payload any) error
}

type Handler struct {
	runtime   domain.Runtime
	market    *usecase.MarketUsecase
	watchlist *usecase.WatchlistUsecase
	sync      *messaging.Synchronizer
	recorder  *diagnostics.Recorder
	publisher EventPublisher

	sessionMu sync.Mutex
	// last identity a session was started for
	sessionIdentity string
}

func NewHandler(
	runtime domain.Runtime,
	market *usecase.MarketUsecase,
	watchlist *usecase.WatchlistUsecase,
	sync *messaging.Synchronizer,
	recorder *diagnostics.Recorder,
	publisher EventPublisher,
) *Handler {
	return &Handler{
		runtime:   runtime,
		market:    market,
		watchlist: watchlist,
		sync:      sync,
		recorder:  recorder,
		publisher: publisher,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Use(middleware.IdentifyIdentity)

	e.GET("/names", h.handleNames)
	e.GET("/names/next", h.handleNextNames)
	e.GET("/names/:name", h.handleName)
	e.GET("/owners/:owner/names", h.handleOwnedNames)
	e.GET("/owners/:owner/names/next", h.handleNextOwnedNames)
	e.GET("/tokens/:id/stats", h.handleTokenStats)
	e.GET("/tokens/:id/offers", h.handleOffers)
	e.GET("/tokens/:id/offers/next", h.handleNextOffers)
	e.POST("/refetch", h.handleRefetch)
	e.POST("/cache/reset", h.handleReset)

	w := e.Group("/watchlist", middleware.RequireIdentity)
	w.GET("", h.handleWatchlist)
	w.GET("/names", h.handleWatchedNames)
	w.GET("/:name", h.handleIsWatching)
	w.POST("/:name", h.handleWatch)
	w.DELETE("/:name", h.handleUnwatch)

	m := e.Group("/messaging")
	m.GET("", h.handleMessaging)
	m.GET("/stream", h.handleMessagingStream)
	m.POST("/session", h.handleStartSession, middleware.RequireIdentity)
	m.DELETE("/session", h.handleStopSession)
	m.POST("/conversations/:id/open", h.handleOpenConversation)
	m.POST("/conversations/:id/leave", h.handleLeaveConversation)
	m.POST("/conversations/:id/messages", h.handleSendMessage)
	m.POST("/view/close", h.handleCloseView)

	e.GET("/debug/diagnostics", h.handleDiagnostics)
	e.POST("/debug/events/:type", h.handleInjectEvent)
}

func bindNameQuery(c echo.Context) (domain.NameQuery, error) {
	var q domain.NameQuery
	var listed string
	err := echo.QueryParamsBinder(c).
		Int("page", &q.Page).
		Int("take", &q.PageSize).
		String("listed", &listed).
		BindWithDelimiter("tlds", &q.TLDs, ",").
		String("name", &q.Name).
		String("status", &q.Status).
		String("sortOrder", &q.SortOrder).
		BindError()
	if err != nil {
		return q, domain.ValidationError{Field: "query", Message: err.Error()}
	}

	switch strings.ToLower(listed) {
	case "":
	case "true", "1":
		v := true
		q.Listed = &v
	case "false", "0":
		v := false
		q.Listed = &v
	default:
		return q, domain.ValidationError{Field: "listed", Message: "must be true or false"}
	}

	q = q.WithDefaults()
	return q, q.Validate()
}

func bindOfferQuery(c echo.Context) (domain.OfferQuery, error) {
	q := domain.OfferQuery{TokenID: c.Param("id")}
	err := echo.QueryParamsBinder(c).
		Int("page", &q.Page).
		Int("take", &q.PageSize).
		String("status", &q.Status).
		String("sortOrder", &q.SortOrder).
		BindError()
	if err != nil {
		return q, domain.ValidationError{Field: "query", Message: err.Error()}
	}

	q = q.WithDefaults()
	return q, q.Validate()
}

func (h *Handler) handleNames(c echo.Context) error {
	ctx := c.Request().Context()

	q, err := bindNameQuery(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	snap, err := h.market.Names(ctx, q)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snap)
}

func (h *Handler) handleNextNames(c echo.Context) error {
	ctx := c.Request().Context()

	q, err := bindNameQuery(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	snap, err := h.market.NextNames(ctx, q)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snap)
}

func (h *Handler) handleOwnedNames(c echo.Context) error {
	ctx := c.Request().Context()

	owner := c.Param("owner")
	if err := domain.ValidateOwner(owner); err != nil {
		return presenter.Error(c, err)
	}
	q, err := bindNameQuery(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	snap, err := h.market.OwnedNames(ctx, domainbay.NormalizeAddress(owner), q)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snap)
}

func (h *Handler) handleNextOwnedNames(c echo.Context) error {
	ctx := c.Request().Context()

	owner := c.Param("owner")
	if err := domain.ValidateOwner(owner); err != nil {
		return presenter.Error(c, err)
	}
	q, err := bindNameQuery(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	snap, err := h.market.NextOwnedNames(ctx, domainbay.NormalizeAddress(owner), q)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snap)
}

func (h *Handler) handleName(c echo.Context) error {
	ctx := c.Request().Context()

	name := c.Param("name")
	if err := domain.ValidateName(name); err != nil {
		return presenter.Error(c, err)
	}

	record, err := h.market.Name(ctx, name)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, record)
}

func (h *Handler) handleTokenStats(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := h.market.TokenStats(ctx, c.Param("id"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, stats)
}

func (h *Handler) handleOffers(c echo.Context) error {
	ctx := c.Request().Context()

	q, err := bindOfferQuery(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	snap, err := h.market.Offers(ctx, q)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snap)
}

func (h *Handler) handleNextOffers(c echo.Context) error {
	ctx := c.Request().Context()

	q, err := bindOfferQuery(c)
	if err != nil {
		return presenter.Error(c, err)
	}

	snap, err := h.market.NextOffers(ctx, q)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snap)
}

type refetchRequest struct {
	Scope   querykey.Scope   `json:"scope"`
	Owner   string           `json:"owner,omitempty"`
	Name    string           `json:"name,omitempty"`
	TokenID string           `json:"tokenId,omitempty"`
	Names   []string         `json:"names,omitempty"`
	Query   domain.NameQuery `json:"query"`
	Offers  struct {
		Page      int    `json:"page"`
		PageSize  int    `json:"take"`
		Status    string `json:"status,omitempty"`
		SortOrder string `json:"sortOrder,omitempty"`
	} `json:"offers"`
}

func (r refetchRequest) key() querykey.Key {
	switch r.Scope {
	case querykey.ScopeOwnedNames:
		return usecase.OwnedNamesKey(domainbay.NormalizeAddress(r.Owner), r.Query)
	case querykey.ScopeName:
		return usecase.RecordKey(r.Name)
	case querykey.ScopeTokenStats:
		return usecase.TokenStatsKey(r.TokenID)
	case querykey.ScopeTokenOffers:
		return usecase.OffersKey(domain.OfferQuery{
			TokenID:   r.TokenID,
			Page:      r.Offers.Page,
			PageSize:  r.Offers.PageSize,
			Status:    r.Offers.Status,
			SortOrder: r.Offers.SortOrder,
		})
	case querykey.ScopeWatchedNames:
		return usecase.WatchedNamesKey(r.Names)
	case querykey.ScopeNames:
		return usecase.NameKey(r.Query)
	default:
		return querykey.Build(r.Scope)
	}
}

func (h *Handler) handleRefetch(c echo.Context) error {
	ctx := c.Request().Context()

	var req refetchRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	key := req.key()
	if !key.Enabled() {
		return presenter.BadRequestMessage(c, "key is missing required params: "+key.String())
	}

	if err := h.market.Refetch(ctx, key); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok", "key": key.String()})
}

func (h *Handler) handleReset(c echo.Context) error {
	h.market.Reset()
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleWatchlist(c echo.Context) error {
	ctx := c.Request().Context()

	names, err := h.watchlist.List(ctx, middleware.Identity(ctx))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"names": names})
}

func (h *Handler) handleWatchedNames(c echo.Context) error {
	ctx := c.Request().Context()

	snap, err := h.watchlist.Names(ctx, middleware.Identity(ctx))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, snap)
}

func (h *Handler) handleIsWatching(c echo.Context) error {
	ctx := c.Request().Context()

	watching := h.watchlist.IsWatching(ctx, c.Param("name"), middleware.Identity(ctx))
	return presenter.OK(c, echo.Map{"watching": watching})
}

func (h *Handler) handleWatch(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.watchlist.Add(ctx, c.Param("name"), middleware.Identity(ctx))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleUnwatch(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.watchlist.Remove(ctx, c.Param("name"), middleware.Identity(ctx))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

type messagingResponse struct {
	messaging.Snapshot
	TotalUnread int      `json:"totalUnread"`
	Typing      []string `json:"typing"`
	Error       string   `json:"error,omitempty"`
}

func newMessagingResponse(snap messaging.Snapshot) messagingResponse {
	return messagingResponse{
		Snapshot:    snap,
		TotalUnread: snap.TotalUnread(),
		Typing:      snap.Typing(),
		Error:       snap.ErrorMessage(),
	}
}

func (h *Handler) handleMessaging(c echo.Context) error {
	return presenter.OK(c, newMessagingResponse(h.sync.Snapshot()))
}

func (h *Handler) handleStartSession(c echo.Context) error {
	ctx := c.Request().Context()
	identity := middleware.Identity(ctx)

	h.sessionMu.Lock()
	if h.sessionIdentity != "" && !domainbay.SameAddress(h.sessionIdentity, identity) {
		// cached pages belong to the previous account
		h.market.Reset()
		slog.InfoContext(
			ctx, "identity changed, cache reset",
			slog.String("identity", identity),
			slog.String("module", "rest"),
		)
	}
	h.sessionIdentity = identity
	h.sessionMu.Unlock()

	err := h.sync.Start(ctx, identity)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, newMessagingResponse(h.sync.Snapshot()))
}

func (h *Handler) handleStopSession(c echo.Context) error {
	h.sync.Stop()
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleOpenConversation(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.sync.Open(ctx, c.Param("id")); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, newMessagingResponse(h.sync.Snapshot()))
}

func (h *Handler) handleLeaveConversation(c echo.Context) error {
	if err := h.sync.Leave(c.Param("id")); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleCloseView(c echo.Context) error {
	h.sync.CloseView()
	return presenter.OK(c, echo.Map{"status": "ok"})
}

type sendRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleSendMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	msg, err := h.sync.Send(ctx, c.Param("id"), req.Content)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, msg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleMessagingStream pushes a messaging snapshot on every change. Client
// frames are read only to notice the close.
func (h *Handler) handleMessagingStream(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer ws.Close()

	ctx := c.Request().Context()

	output := make(chan messaging.Snapshot, 16)
	cancel := h.sync.OnChange(func(snap messaging.Snapshot) {
		select {
		case output <- snap:
		default:
			// a slow reader only misses intermediate states
		}
	})
	defer cancel()

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.DebugContext(
						ctx, "WebSocket closed",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}
				return
			}
		}
	}()

	if err := ws.WriteJSON(newMessagingResponse(h.sync.Snapshot())); err != nil {
		return nil
	}

	for {
		select {
		case <-quit:
			return nil
		case snap := <-output:
			err := ws.WriteJSON(newMessagingResponse(snap))
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}

func (h *Handler) handleDiagnostics(c echo.Context) error {
	ctx := c.Request().Context()

	identity := middleware.Identity(ctx)
	if q := c.QueryParam("identity"); q != "" && domainbay.IsAddress(q) {
		identity = q
	}

	record := h.recorder.Record(h.sync.Snapshot(), identity, h.runtime.Environment)
	if !record.Actionable() {
		return presenter.NotFound(c, "nothing to report")
	}
	return presenter.OK(c, record)
}

// handleInjectEvent publishes a synthetic event to an identity's stream.
func (h *Handler) handleInjectEvent(c echo.Context) error {
	ctx := c.Request().Context()

	if h.runtime.IsProduction() || h.publisher == nil {
		return presenter.NotFound(c, "not available")
	}

	identity := c.QueryParam("identity")
	if identity == "" {
		identity = middleware.Identity(ctx)
	}
	if !domainbay.IsAddress(identity) {
		return presenter.BadRequestMessage(c, "identity required")
	}

	var payload json.RawMessage
	if err := c.Bind(&payload); err != nil {
		return presenter.BadRequest(c, err)
	}
	if len(payload) == 0 {
		return presenter.BadRequestMessage(c, "payload required")
	}

	err := h.publisher.Publish(ctx, domainbay.NormalizeAddress(identity), c.Param("type"), payload)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}
