package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var embedded embed.FS

// Apply runs the migrations bundled with the binary.
func Apply(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		return err
	}
	return ApplyFS(ctx, db, sub)
}

// ApplyDir runs migrations from a directory on disk.
func ApplyDir(ctx context.Context, db *sql.DB, dir string) error {
	return ApplyFS(ctx, db, os.DirFS(dir))
}

// ApplyFS runs every *.sql file at the root of fsys in lexical order,
// skipping names already recorded in schema_migrations.
func ApplyFS(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	files, err := Pending(fsys)
	if err != nil {
		return err
	}

	if err := ensureSchemaMigrations(ctx, db); err != nil {
		return err
	}

	for _, name := range files {
		applied, err := isApplied(ctx, db, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}

		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}

		if err := markApplied(ctx, db, name); err != nil {
			return err
		}
	}

	return nil
}

// Pending lists the migration file names in fsys in apply order.
func Pending(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, path.Base(name))
		}
	}

	sort.Strings(files)
	return files, nil
}

// Embedded exposes the bundled migrations.
func Embedded() fs.FS {
	sub, _ := fs.Sub(embedded, "sql")
	return sub
}

func ensureSchemaMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  name VARCHAR(255) NOT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (name)
) ENGINE=InnoDB;
`)
	return err
}

func isApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT name FROM schema_migrations WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func markApplied(ctx context.Context, db *sql.DB, name string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, name)
	return err
}
