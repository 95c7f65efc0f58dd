package database

import (
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/totegamma/domainbay/internal/infra/database/models"
)

func NewPostgres(dsn string, slowThreshold time.Duration) (*gorm.DB, error) {
	if slowThreshold <= 0 {
		slowThreshold = 300 * time.Millisecond
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             slowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
}

func MigratePostgres(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.WatchEntry{},
		&models.CachedRecord{},
	)
}
