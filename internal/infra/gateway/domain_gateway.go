package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/client"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/usecase"
)

var tracer = otel.Tracer("gateway")

// DomainGateway reads names and offers from the marketplace GraphQL API.
// It holds no state between calls and never retries.
type DomainGateway struct {
	client   *client.Client
	endpoint string
	timeout  time.Duration
}

type Option func(*DomainGateway)

// WithTimeout bounds every call in addition to the caller's context.
func WithTimeout(timeout time.Duration) Option {
	return func(g *DomainGateway) {
		g.timeout = timeout
	}
}

func NewDomainGateway(cl *client.Client, endpoint string, opts ...Option) *DomainGateway {
	g := &DomainGateway{
		client:   cl,
		endpoint: endpoint,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type pageResult[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"totalCount"`
}

func (g *DomainGateway) FetchNames(ctx context.Context, q domain.NameQuery) (domainbay.Page[domainbay.DomainRecord], error) {
	ctx, span := tracer.Start(ctx, "Gateway.FetchNames", trace.WithAttributes(
		attribute.Int("page", q.Page),
		attribute.Int("take", q.PageSize),
	))
	defer span.End()

	page, err := g.fetchNames(ctx, q, nil)
	if err != nil {
		span.RecordError(errors.Wrap(err, "fetch names failed"))
		return domainbay.Page[domainbay.DomainRecord]{}, &domain.GatewayError{Op: "FetchNames", Err: err}
	}
	return page, nil
}

func (g *DomainGateway) FetchNamesByOwner(ctx context.Context, owner string, q domain.NameQuery) (domainbay.Page[domainbay.DomainRecord], error) {
	ctx, span := tracer.Start(ctx, "Gateway.FetchNamesByOwner")
	defer span.End()

	if err := domain.ValidateOwner(owner); err != nil {
		span.RecordError(err)
		return domainbay.Page[domainbay.DomainRecord]{}, &domain.GatewayError{Op: "FetchNamesByOwner", Err: err}
	}

	page, err := g.fetchNames(ctx, q, []string{domainbay.NormalizeAddress(owner)})
	if err != nil {
		span.RecordError(errors.Wrap(err, "fetch owned names failed"))
		return domainbay.Page[domainbay.DomainRecord]{}, &domain.GatewayError{Op: "FetchNamesByOwner", Err: err}
	}
	return page, nil
}

func (g *DomainGateway) fetchNames(ctx context.Context, q domain.NameQuery, ownedBy []string) (domainbay.Page[domainbay.DomainRecord], error) {
	if err := q.Validate(); err != nil {
		return domainbay.Page[domainbay.DomainRecord]{}, err
	}

	vars := map[string]any{
		"page":      q.Page,
		"take":      q.PageSize,
		"listed":    q.Listed,
		"tlds":      q.TLDs,
		"name":      q.Name,
		"status":    q.Status,
		"sortOrder": q.SortOrder,
		"ownedBy":   ownedBy,
	}

	data, err := execute[struct {
		Names pageResult[domainbay.DomainRecord] `json:"names"`
	}](ctx, g, namesDocument, vars)
	if err != nil {
		return domainbay.Page[domainbay.DomainRecord]{}, err
	}

	items := make([]domainbay.DomainRecord, 0, len(data.Names.Items))
	for _, r := range data.Names.Items {
		items = append(items, normalizeRecord(r))
	}

	return domainbay.NewPage(items, q.Page, q.PageSize, data.Names.TotalCount), nil
}

func (g *DomainGateway) FetchName(ctx context.Context, name string) (*domainbay.DomainRecord, error) {
	ctx, span := tracer.Start(ctx, "Gateway.FetchName", trace.WithAttributes(
		attribute.String("name", name),
	))
	defer span.End()

	if err := domain.ValidateName(name); err != nil {
		span.RecordError(err)
		return nil, &domain.GatewayError{Op: "FetchName", Err: err}
	}

	data, err := execute[struct {
		Name *domainbay.DomainRecord `json:"name"`
	}](ctx, g, nameDocument, map[string]any{"name": domainbay.NormalizeName(name)})
	if err != nil {
		span.RecordError(errors.Wrap(err, "fetch name failed"))
		return nil, &domain.GatewayError{Op: "FetchName", Err: err}
	}

	if data.Name == nil {
		return nil, &domain.GatewayError{Op: "FetchName", Err: domain.NotFoundError{Resource: "name " + name}}
	}

	record := normalizeRecord(*data.Name)
	return &record, nil
}

func (g *DomainGateway) FetchTokenStats(ctx context.Context, tokenID string) (domainbay.TokenStats, error) {
	ctx, span := tracer.Start(ctx, "Gateway.FetchTokenStats")
	defer span.End()

	if strings.TrimSpace(tokenID) == "" {
		err := domain.ValidationError{Field: "tokenId", Message: "required"}
		span.RecordError(err)
		return domainbay.TokenStats{}, &domain.GatewayError{Op: "FetchTokenStats", Err: err}
	}

	data, err := execute[struct {
		Stats *domainbay.TokenStats `json:"offersStats"`
	}](ctx, g, tokenStatsDocument, map[string]any{"tokenId": tokenID})
	if err != nil {
		span.RecordError(errors.Wrap(err, "fetch token stats failed"))
		return domainbay.TokenStats{}, &domain.GatewayError{Op: "FetchTokenStats", Err: err}
	}

	if data.Stats == nil {
		return domainbay.TokenStats{TokenID: tokenID}, nil
	}
	stats := *data.Stats
	if stats.TokenID == "" {
		stats.TokenID = tokenID
	}
	return stats, nil
}

func (g *DomainGateway) FetchOffers(ctx context.Context, q domain.OfferQuery) (domainbay.Page[domainbay.Offer], error) {
	ctx, span := tracer.Start(ctx, "Gateway.FetchOffers", trace.WithAttributes(
		attribute.Int("page", q.Page),
		attribute.Int("take", q.PageSize),
	))
	defer span.End()

	if err := q.Validate(); err != nil {
		span.RecordError(err)
		return domainbay.Page[domainbay.Offer]{}, &domain.GatewayError{Op: "FetchOffers", Err: err}
	}

	vars := map[string]any{
		"tokenId":   q.TokenID,
		"page":      q.Page,
		"take":      q.PageSize,
		"status":    q.Status,
		"sortOrder": q.SortOrder,
	}

	data, err := execute[struct {
		Offers pageResult[domainbay.Offer] `json:"offers"`
	}](ctx, g, offersDocument, vars)
	if err != nil {
		span.RecordError(errors.Wrap(err, "fetch offers failed"))
		return domainbay.Page[domainbay.Offer]{}, &domain.GatewayError{Op: "FetchOffers", Err: err}
	}

	return domainbay.NewPage(data.Offers.Items, q.Page, q.PageSize, data.Offers.TotalCount), nil
}

func execute[T any](ctx context.Context, g *DomainGateway, doc *document, vars map[string]any) (T, error) {
	var zero T

	req, err := doc.request(vars)
	if err != nil {
		return zero, err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var res graphqlResponse[T]
	err = g.client.PostJSON(ctx, g.endpoint, req, &res)
	if err != nil {
		slog.WarnContext(
			ctx, "graphql request failed",
			slog.String("operation", doc.operation),
			slog.String("error", err.Error()),
			slog.String("module", "gateway"),
		)
		return zero, err
	}

	if len(res.Errors) > 0 {
		return zero, domain.BackendError{
			Op:      doc.operation,
			Message: res.Errors.Error(),
		}
	}

	return res.Data, nil
}

func normalizeRecord(r domainbay.DomainRecord) domainbay.DomainRecord {
	r.Name = domainbay.NormalizeName(r.Name)
	if r.Owner == "" && len(r.Tokens) > 0 {
		r.Owner = domainbay.NormalizeAddress(r.Tokens[0].OwnerAddress)
	}
	if !r.Tokenized {
		r.Tokenized = len(r.Tokens) > 0
	}
	return r
}

var _ usecase.DomainGateway = (*DomainGateway)(nil)
