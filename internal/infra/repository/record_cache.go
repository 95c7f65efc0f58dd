package repository

import (
	"context"
	"encoding/json"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/domainbay"
	"github.com/totegamma/domainbay/internal/domain"
	"github.com/totegamma/domainbay/internal/infra/database/models"
	"github.com/totegamma/domainbay/internal/watchlist"
)

const recordKeyPrefix = "domainbay:record:"

// MemcacheRecordCache holds fallback records in memcached.
type MemcacheRecordCache struct {
	mc  *memcache.Client
	ttl int32
}

func NewMemcacheRecordCache(mc *memcache.Client, ttlSeconds int32) *MemcacheRecordCache {
	return &MemcacheRecordCache{mc: mc, ttl: ttlSeconds}
}

var _ watchlist.RecordCache = (*MemcacheRecordCache)(nil)

func recordKey(name string) string {
	return recordKeyPrefix + domainbay.NormalizeName(name)
}

func (r *MemcacheRecordCache) Get(ctx context.Context, name string) (*domainbay.DomainRecord, error) {
	item, err := r.mc.Get(recordKey(name))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, domain.NotFoundError{Resource: "cached record " + name}
	}
	if err != nil {
		return nil, errors.Wrap(err, "memcache get")
	}

	var record domainbay.DomainRecord
	if err := json.Unmarshal(item.Value, &record); err != nil {
		return nil, errors.Wrap(err, "decode cached record")
	}
	return &record, nil
}

func (r *MemcacheRecordCache) Set(ctx context.Context, record domainbay.DomainRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}

	err = r.mc.Set(&memcache.Item{
		Key:        recordKey(record.Name),
		Value:      value,
		Expiration: r.ttl,
	})
	if err != nil {
		return errors.Wrap(err, "memcache set")
	}
	return nil
}

// SQLRecordCache holds fallback records in postgres when no memcached is
// configured.
type SQLRecordCache struct {
	db *gorm.DB
}

func NewSQLRecordCache(db *gorm.DB) *SQLRecordCache {
	return &SQLRecordCache{db: db}
}

var _ watchlist.RecordCache = (*SQLRecordCache)(nil)

func (r *SQLRecordCache) Get(ctx context.Context, name string) (*domainbay.DomainRecord, error) {
	var cached models.CachedRecord
	err := r.db.WithContext(ctx).
		Where("name = ?", domainbay.NormalizeName(name)).
		Take(&cached).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: "cached record " + name}
	}
	if err != nil {
		return nil, errors.Wrap(err, "load cached record")
	}

	var record domainbay.DomainRecord
	if err := json.Unmarshal([]byte(cached.Document), &record); err != nil {
		return nil, errors.Wrap(err, "decode cached record")
	}
	return &record, nil
}

func (r *SQLRecordCache) Set(ctx context.Context, record domainbay.DomainRecord) error {
	document, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}

	cached := models.CachedRecord{
		Name:     domainbay.NormalizeName(record.Name),
		Document: string(document),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "m_date"}),
	}).Create(&cached).Error
	if err != nil {
		return errors.Wrap(err, "store cached record")
	}
	return nil
}
