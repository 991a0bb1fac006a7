package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

type Config struct {
	DSN string
	// MaxOpenConns caps the pool; zero means 20.
	MaxOpenConns int
}

// Open parses the DSN and forces parseTime so DATETIME columns scan into
// time.Time, and UTC so stored timestamps round-trip unchanged.
func Open(cfg Config) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.MultiStatements = true

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.PingContext(c)
}
