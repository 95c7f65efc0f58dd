package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/domainbay/internal/infra/database/models"
	"github.com/totegamma/domainbay/internal/usecase"
)

// SQLWatchlistStore keeps the watchlist in postgres for self-hosted setups.
type SQLWatchlistStore struct {
	db *gorm.DB
}

func NewSQLWatchlistStore(db *gorm.DB) *SQLWatchlistStore {
	return &SQLWatchlistStore{db: db}
}

var _ usecase.WatchlistStore = (*SQLWatchlistStore)(nil)

func (r *SQLWatchlistStore) Add(ctx context.Context, name, user string) error {
	entry := models.WatchEntry{
		UserAddress: user,
		DomainName:  name,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
	if err != nil {
		return errors.Wrap(err, "insert watch entry")
	}
	return nil
}

func (r *SQLWatchlistStore) Remove(ctx context.Context, name, user string) error {
	err := r.db.WithContext(ctx).
		Where("user_address = ? AND domain_name = ?", user, name).
		Delete(&models.WatchEntry{}).Error
	if err != nil {
		return errors.Wrap(err, "delete watch entry")
	}
	return nil
}

func (r *SQLWatchlistStore) List(ctx context.Context, user string) ([]string, error) {
	names := []string{}
	err := r.db.WithContext(ctx).
		Model(&models.WatchEntry{}).
		Where("user_address = ?", user).
		Order("c_date ASC").
		Pluck("domain_name", &names).Error
	if err != nil {
		return nil, errors.Wrap(err, "list watch entries")
	}
	return names, nil
}

func (r *SQLWatchlistStore) IsWatching(ctx context.Context, name, user string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WatchEntry{}).
		Where("user_address = ? AND domain_name = ?", user, name).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check watch entry")
	}
	return count > 0, nil
}
