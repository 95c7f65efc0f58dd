package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/pagecache"
	"github.com/totegamma/domainbay/internal/querykey"
)

var tracer = otel.Tracer("usecase")

type MarketOptions struct {
	StaleAfter time.Duration
	Clock      func() time.Time
}

// MarketUsecase answers every marketplace read through the page cache. The
// query key carries all the parameters, so the fetcher for a key is rebuilt
// from the key alone.
type MarketUsecase struct {
	gateway    DomainGateway
	aggregator NameAggregator

	names   *pagecache.Cache[domainbay.DomainRecord]
	records *pagecache.Cache[domainbay.DomainRecord]
	stats   *pagecache.Cache[domainbay.TokenStats]
	offers  *pagecache.Cache[domainbay.Offer]
}

func NewMarketUsecase(gateway DomainGateway, aggregator NameAggregator, opts MarketOptions) *MarketUsecase {
	recordID := func(r domainbay.DomainRecord) string { return r.Key() }
	return &MarketUsecase{
		gateway:    gateway,
		aggregator: aggregator,
		names: pagecache.New(pagecache.Options[domainbay.DomainRecord]{
			Identity:   recordID,
			StaleAfter: opts.StaleAfter,
			Clock:      opts.Clock,
		}),
		records: pagecache.New(pagecache.Options[domainbay.DomainRecord]{
			Identity:   recordID,
			StaleAfter: opts.StaleAfter,
			Clock:      opts.Clock,
		}),
		stats: pagecache.New(pagecache.Options[domainbay.TokenStats]{
			Identity:   func(s domainbay.TokenStats) string { return s.TokenID },
			StaleAfter: opts.StaleAfter,
			Clock:      opts.Clock,
		}),
		offers: pagecache.New(pagecache.Options[domainbay.Offer]{
			Identity:   func(o domainbay.Offer) string { return o.Key() },
			StaleAfter: opts.StaleAfter,
			Clock:      opts.Clock,
		}),
	}
}

func NameKey(q domain.NameQuery) querykey.Key {
	q = q.WithDefaults()
	return querykey.Build(querykey.ScopeNames, nameParams(q)...)
}

func OwnedNamesKey(owner string, q domain.NameQuery) querykey.Key {
	q = q.WithDefaults()
	return querykey.Build(querykey.ScopeOwnedNames, append(nameParams(q), querykey.Owner(owner))...)
}

func RecordKey(name string) querykey.Key {
	return querykey.Build(querykey.ScopeName, querykey.Name(domainbay.NormalizeName(name)))
}

func TokenStatsKey(tokenID string) querykey.Key {
	return querykey.Build(querykey.ScopeTokenStats, querykey.TokenID(tokenID))
}

func OffersKey(q domain.OfferQuery) querykey.Key {
	q = q.WithDefaults()
	return querykey.Build(
		querykey.ScopeTokenOffers,
		querykey.TokenID(q.TokenID),
		querykey.Page(q.Page),
		querykey.PageSize(q.PageSize),
		querykey.Status(q.Status),
		querykey.Sort(q.SortOrder),
	)
}

func WatchedNamesKey(names []string) querykey.Key {
	if names == nil {
		names = []string{}
	}
	return querykey.Build(querykey.ScopeWatchedNames, querykey.Names(names))
}

func nameParams(q domain.NameQuery) []querykey.Param {
	params := []querykey.Param{
		querykey.Page(q.Page),
		querykey.PageSize(q.PageSize),
		querykey.Listed(q.Listed),
		querykey.TLDs(q.TLDs),
		querykey.Status(q.Status),
		querykey.Sort(q.SortOrder),
	}
	if q.Name != "" {
		params = append(params, querykey.Name(q.Name))
	}
	return params
}

func nameQueryFromKey(key querykey.Key) domain.NameQuery {
	return domain.NameQuery{
		Page:      key.Int(querykey.ParamPage, 1),
		PageSize:  key.Int(querykey.ParamPageSize, domain.DefaultPageSize),
		Listed:    key.Bool(querykey.ParamListed),
		TLDs:      key.Strings(querykey.ParamTLDs),
		Name:      key.Text(querykey.ParamName),
		Status:    key.Text(querykey.ParamStatus),
		SortOrder: key.Text(querykey.ParamSort),
	}
}

func offerQueryFromKey(key querykey.Key) domain.OfferQuery {
	return domain.OfferQuery{
		TokenID:   key.Text(querykey.ParamTokenID),
		Page:      key.Int(querykey.ParamPage, 1),
		PageSize:  key.Int(querykey.ParamPageSize, domain.DefaultPageSize),
		Status:    key.Text(querykey.ParamStatus),
		SortOrder: key.Text(querykey.ParamSort),
	}
}

func (u *MarketUsecase) namesFetcher(key querykey.Key) pagecache.Fetcher[domainbay.DomainRecord] {
	q := nameQueryFromKey(key)
	switch key.Scope() {
	case querykey.ScopeOwnedNames:
		owner := key.Text(querykey.ParamOwner)
		return func(ctx context.Context, page int) (domainbay.Page[domainbay.DomainRecord], error) {
			q.Page = page
			return u.gateway.FetchNamesByOwner(ctx, owner, q)
		}
	case querykey.ScopeWatchedNames:
		names := key.Strings(querykey.ParamNames)
		return func(ctx context.Context, page int) (domainbay.Page[domainbay.DomainRecord], error) {
			return u.aggregator.Aggregate(ctx, names)
		}
	default:
		return func(ctx context.Context, page int) (domainbay.Page[domainbay.DomainRecord], error) {
			q.Page = page
			return u.gateway.FetchNames(ctx, q)
		}
	}
}

func (u *MarketUsecase) recordFetcher(key querykey.Key) pagecache.Fetcher[domainbay.DomainRecord] {
	name := key.Text(querykey.ParamName)
	return func(ctx context.Context, page int) (domainbay.Page[domainbay.DomainRecord], error) {
		record, err := u.gateway.FetchName(ctx, name)
		if err != nil {
			return domainbay.Page[domainbay.DomainRecord]{}, err
		}
		return domainbay.NewPage([]domainbay.DomainRecord{*record}, 1, 1, 1), nil
	}
}

func (u *MarketUsecase) statsFetcher(key querykey.Key) pagecache.Fetcher[domainbay.TokenStats] {
	tokenID := key.Text(querykey.ParamTokenID)
	return func(ctx context.Context, page int) (domainbay.Page[domainbay.TokenStats], error) {
		stats, err := u.gateway.FetchTokenStats(ctx, tokenID)
		if err != nil {
			return domainbay.Page[domainbay.TokenStats]{}, err
		}
		return domainbay.NewPage([]domainbay.TokenStats{stats}, 1, 1, 1), nil
	}
}

func (u *MarketUsecase) offersFetcher(key querykey.Key) pagecache.Fetcher[domainbay.Offer] {
	q := offerQueryFromKey(key)
	return func(ctx context.Context, page int) (domainbay.Page[domainbay.Offer], error) {
		q.Page = page
		return u.gateway.FetchOffers(ctx, q)
	}
}

func (u *MarketUsecase) Names(ctx context.Context, q domain.NameQuery) (pagecache.Snapshot[domainbay.DomainRecord], error) {
	key := NameKey(q)
	return u.names.Fetch(ctx, key, u.namesFetcher(key))
}

func (u *MarketUsecase) NextNames(ctx context.Context, q domain.NameQuery) (pagecache.Snapshot[domainbay.DomainRecord], error) {
	key := NameKey(q)
	return u.names.FetchNext(ctx, key, u.namesFetcher(key))
}

// OwnedNames stays idle without fetching when owner is empty.
func (u *MarketUsecase) OwnedNames(ctx context.Context, owner string, q domain.NameQuery) (pagecache.Snapshot[domainbay.DomainRecord], error) {
	key := OwnedNamesKey(owner, q)
	return u.names.Fetch(ctx, key, u.namesFetcher(key))
}

func (u *MarketUsecase) NextOwnedNames(ctx context.Context, owner string, q domain.NameQuery) (pagecache.Snapshot[domainbay.DomainRecord], error) {
	key := OwnedNamesKey(owner, q)
	return u.names.FetchNext(ctx, key, u.namesFetcher(key))
}

func (u *MarketUsecase) Name(ctx context.Context, name string) (domainbay.DomainRecord, error) {
	key := RecordKey(name)
	if !key.Enabled() {
		return domainbay.DomainRecord{}, domain.ValidationError{Field: "name", Message: "required"}
	}

	snap, err := u.records.Fetch(ctx, key, u.recordFetcher(key))
	if err != nil {
		return domainbay.DomainRecord{}, err
	}
	if len(snap.Items) == 0 {
		return domainbay.DomainRecord{}, domain.NotFoundError{Resource: "name " + name}
	}
	return snap.Items[0], nil
}

func (u *MarketUsecase) TokenStats(ctx context.Context, tokenID string) (domainbay.TokenStats, error) {
	key := TokenStatsKey(tokenID)
	if !key.Enabled() {
		return domainbay.TokenStats{}, domain.ValidationError{Field: "tokenId", Message: "required"}
	}

	snap, err := u.stats.Fetch(ctx, key, u.statsFetcher(key))
	if err != nil {
		return domainbay.TokenStats{}, err
	}
	if len(snap.Items) == 0 {
		return domainbay.TokenStats{TokenID: tokenID}, nil
	}
	return snap.Items[0], nil
}

func (u *MarketUsecase) Offers(ctx context.Context, q domain.OfferQuery) (pagecache.Snapshot[domainbay.Offer], error) {
	key := OffersKey(q)
	return u.offers.Fetch(ctx, key, u.offersFetcher(key))
}

func (u *MarketUsecase) NextOffers(ctx context.Context, q domain.OfferQuery) (pagecache.Snapshot[domainbay.Offer], error) {
	key := OffersKey(q)
	return u.offers.FetchNext(ctx, key, u.offersFetcher(key))
}

// WatchedNames assembles the records for names afresh on every call.
func (u *MarketUsecase) WatchedNames(ctx context.Context, names []string) (pagecache.Snapshot[domainbay.DomainRecord], error) {
	ctx, span := tracer.Start(ctx, "Market.WatchedNames", trace.WithAttributes(
		attribute.Int("names", len(names)),
	))
	defer span.End()

	key := WatchedNamesKey(names)
	return u.names.Refetch(ctx, key, u.namesFetcher(key))
}

// Refetch reloads every cached page of key, whatever its scope.
func (u *MarketUsecase) Refetch(ctx context.Context, key querykey.Key) error {
	ctx, span := tracer.Start(ctx, "Market.Refetch", trace.WithAttributes(
		attribute.String("key", key.String()),
	))
	defer span.End()

	var err error
	switch key.Scope() {
	case querykey.ScopeNames, querykey.ScopeOwnedNames, querykey.ScopeWatchedNames:
		_, err = u.names.Refetch(ctx, key, u.namesFetcher(key))
	case querykey.ScopeName:
		_, err = u.records.Refetch(ctx, key, u.recordFetcher(key))
	case querykey.ScopeTokenStats:
		_, err = u.stats.Refetch(ctx, key, u.statsFetcher(key))
	case querykey.ScopeTokenOffers:
		_, err = u.offers.Refetch(ctx, key, u.offersFetcher(key))
	default:
		err = domain.ValidationError{Field: "scope", Message: "unknown scope " + string(key.Scope())}
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Reset drops every cached entry, e.g. when the signed-in account changes.
func (u *MarketUsecase) Reset() {
	u.names.Reset()
	u.records.Reset()
	u.stats.Reset()
	u.offers.Reset()
}
