package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ETAnderson/pricewatch/internal/db"
	"github.com/ETAnderson/pricewatch/internal/migrate"
)

const (
	BackendMemory = "memory"
	BackendMySQL  = "mysql"

	defaultPingTimeout = 5 * time.Second
)

// FactoryConfig selects and prepares the state backend. The pool and
// migration fields only apply to mysql.
type FactoryConfig struct {
	Backend  string
	MySQLDSN string

	MaxOpenConns  int
	PingTimeout   time.Duration
	RunMigrations bool
}

type FactoryResult struct {
	Store Store
	DB    *sql.DB // only set for mysql

	// Migrated reports whether the bundled migrations ran.
	Migrated bool
}

// Close releases the database pool, if any.
func (r FactoryResult) Close() error {
	if r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// NewStore opens the configured backend. For mysql it pings the server and,
// when asked, applies the bundled migrations before returning; on any
// failure the pool is closed.
func NewStore(ctx context.Context, cfg FactoryConfig) (FactoryResult, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		return FactoryResult{Store: NewMemoryStore()}, nil

	case BackendMySQL:
		return openMySQL(ctx, cfg)

	default:
		return FactoryResult{}, fmt.Errorf("unknown STATE_BACKEND %q (use %s or %s)", cfg.Backend, BackendMemory, BackendMySQL)
	}
}

func openMySQL(ctx context.Context, cfg FactoryConfig) (FactoryResult, error) {
	if strings.TrimSpace(cfg.MySQLDSN) == "" {
		return FactoryResult{}, errors.New("DB_DSN is required when STATE_BACKEND=mysql")
	}

	sqlDB, err := db.Open(db.Config{DSN: cfg.MySQLDSN, MaxOpenConns: cfg.MaxOpenConns})
	if err != nil {
		return FactoryResult{}, fmt.Errorf("open mysql: %w", err)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sqlDB.PingContext(c); err != nil {
		_ = sqlDB.Close()
		return FactoryResult{}, fmt.Errorf("ping mysql: %w", err)
	}

	res := FactoryResult{Store: NewMySQLStore(sqlDB), DB: sqlDB}
	if cfg.RunMigrations {
		if err := migrate.Apply(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return FactoryResult{}, fmt.Errorf("migrations: %w", err)
		}
		res.Migrated = true
	}
	return res, nil
}
