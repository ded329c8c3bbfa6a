package config

import (
	"sync"
	"time"

	"github.com/feichai0017/casefolio/internal/store/postgres"
)

var (
	postgresOnce   sync.Once
	postgresConfig *postgres.Config
)

// GetPostgresConfig reads the pool settings. An empty DSN selects the in-memory store.
func GetPostgresConfig() *postgres.Config {
	postgresOnce.Do(func() {
		loadEnv()
		postgresConfig = &postgres.Config{
			DSN:              getEnv("DATABASE_URL", ""),
			MaxConns:         int32(getInt("DB_MAX_CONNS", 10)),
			MinConns:         int32(getInt("DB_MIN_CONNS", 1)),
			MaxConnLifetime:  getDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime:  getDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			DialTimeout:      getDuration("DB_DIAL_TIMEOUT", 5*time.Second),
			StatementTimeout: getDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
		}
	})
	return postgresConfig
}
