package migrate

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

func TestPending_SortsAndFiltersSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql":   {Data: []byte("select 2")},
		"0001_a.SQL":   {Data: []byte("select 1")},
		"README.md":    {Data: []byte("x")},
		"nested/x.sql": {Data: []byte("select 3")},
	}

	got, err := Pending(fsys)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 || got[0] != "0001_a.SQL" || got[1] != "0002_b.sql" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestEmbedded_CoversSchema(t *testing.T) {
	fsys := Embedded()
	names, err := Pending(fsys)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected embedded migrations")
	}

	var all strings.Builder
	for _, n := range names {
		b, err := fs.ReadFile(fsys, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		all.Write(b)
	}

	for _, table := range []string{"products", "listings", "price_history", "system_config", "users", "favorites", "crawl_runs"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("missing table %s", table)
		}
	}
}
