package usecase

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/pagecache"
)

type WatchlistUsecase struct {
	store  WatchlistStore
	market *MarketUsecase
}

func NewWatchlistUsecase(store WatchlistStore, market *MarketUsecase) *WatchlistUsecase {
	return &WatchlistUsecase{
		store:  store,
		market: market,
	}
}

func validateEntry(name, user string) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	return domain.ValidateOwner(user)
}

func (u *WatchlistUsecase) Add(ctx context.Context, name, user string) error {
	ctx, span := tracer.Start(ctx, "Watchlist.Add")
	defer span.End()

	if err := validateEntry(name, user); err != nil {
		return err
	}

	err := u.store.Add(ctx, domainbay.NormalizeName(name), domainbay.NormalizeAddress(user))
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "add to watchlist")
	}
	return nil
}

func (u *WatchlistUsecase) Remove(ctx context.Context, name, user string) error {
	ctx, span := tracer.Start(ctx, "Watchlist.Remove")
	defer span.End()

	if err := validateEntry(name, user); err != nil {
		return err
	}

	err := u.store.Remove(ctx, domainbay.NormalizeName(name), domainbay.NormalizeAddress(user))
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "remove from watchlist")
	}
	return nil
}

func (u *WatchlistUsecase) List(ctx context.Context, user string) ([]string, error) {
	if err := domain.ValidateOwner(user); err != nil {
		return nil, err
	}

	names, err := u.store.List(ctx, domainbay.NormalizeAddress(user))
	if err != nil {
		return nil, errors.Wrap(err, "list watchlist")
	}
	return names, nil
}

// IsWatching reports false when the store cannot answer.
func (u *WatchlistUsecase) IsWatching(ctx context.Context, name, user string) bool {
	if validateEntry(name, user) != nil {
		return false
	}

	ok, err := u.store.IsWatching(ctx, domainbay.NormalizeName(name), domainbay.NormalizeAddress(user))
	if err != nil {
		slog.WarnContext(
			ctx, "watchlist check failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
			slog.String("module", "usecase"),
		)
		return false
	}
	return ok
}

// Names resolves the user's watched names into records.
func (u *WatchlistUsecase) Names(ctx context.Context, user string) (pagecache.Snapshot[domainbay.DomainRecord], error) {
	names, err := u.List(ctx, user)
	if err != nil {
		return pagecache.Snapshot[domainbay.DomainRecord]{}, err
	}
	return u.market.WatchedNames(ctx, names)
}
