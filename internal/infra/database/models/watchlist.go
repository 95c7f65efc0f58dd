package models

import (
	"time"
)

type WatchEntry struct {
	UserAddress string    `json:"userAddress" gorm:"type:text;primaryKey"`
	DomainName  string    `json:"domainName" gorm:"type:text;primaryKey;index"`
	CDate       time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// CachedRecord keeps the last good copy of a domain record for when the
// marketplace API is unreachable.
type CachedRecord struct {
	Name     string    `json:"name" gorm:"primaryKey;type:text"`
	Document string    `json:"document" gorm:"type:text"`
	MDate    time.Time `json:"mdate" gorm:"autoUpdateTime"`
}
