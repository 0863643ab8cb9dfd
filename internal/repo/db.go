// Package repo is the GORM persistence layer behind the realtime
// collaborators: the social graph, room memberships, stored messages,
// notifications and idempotency records. Functions take the *gorm.DB
// explicitly so callers can pass a transaction.
package repo

import (
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/gossip-backend/internal/domain"
)

// slowQuery is the threshold above which GORM logs a statement at warn.
const slowQuery = 200 * time.Millisecond

var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// OpenSQLite opens (or creates) the database at path, applies the PRAGMAs
// and registers the OpenTelemetry plugin so queries become child spans of
// the request or socket event that issued them. ":memory:" is accepted for
// tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path != ":memory:" {
		// glebarez reports a missing directory as "out of memory (14)".
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("gorm tracing: %w", err)
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// gormLogger routes GORM's slow-query and error lines through zerolog.
// Record-not-found is expected on idempotency misses and is not logged.
func gormLogger() logger.Interface {
	w := log.With().Str("component", "gorm").Logger()
	return logger.New(stdlog.New(w, "", 0), logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// AutoMigrate creates or updates every table the backend owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Friendship{},
		&domain.ConversationMember{},
		&domain.GroupMember{},
		&domain.Message{},
		&domain.Notification{},
		&domain.Idempotency{},
	)
}
