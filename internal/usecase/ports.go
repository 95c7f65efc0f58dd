package usecase

import (
	"context"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
)

// DomainGateway reads names, token stats and offers from the marketplace.
type DomainGateway interface {
	FetchNames(ctx context.Context, q domain.NameQuery) (domainbay.Page[domainbay.DomainRecord], error)
	FetchNamesByOwner(ctx context.Context, owner string, q domain.NameQuery) (domainbay.Page[domainbay.DomainRecord], error)
	FetchName(ctx context.Context, name string) (*domainbay.DomainRecord, error)
	FetchTokenStats(ctx context.Context, tokenID string) (domainbay.TokenStats, error)
	FetchOffers(ctx context.Context, q domain.OfferQuery) (domainbay.Page[domainbay.Offer], error)
}

// NameAggregator turns a list of names into one page of records.
type NameAggregator interface {
	Aggregate(ctx context.Context, names []string) (domainbay.Page[domainbay.DomainRecord], error)
}

// WatchlistStore persists which names a user watches.
type WatchlistStore interface {
	Add(ctx context.Context, name, user string) error
	Remove(ctx context.Context, name, user string) error
	List(ctx context.Context, user string) ([]string, error)
	IsWatching(ctx context.Context, name, user string) (bool, error)
}
