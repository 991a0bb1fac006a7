package state

import (
	"context"
	"database/sql"

	"github.com/ETAnderson/pricewatch/internal/domain"
)

const runColumns = `run_id, trigger_kind, category, status, max_pages, pages, received, new_count, changed_count,
unchanged_count, rejected_count, failed_count, rate_limited, error, started_at, finished_at`

// InsertRun writes a run record, replacing any earlier snapshot of the same run.
func (s *MySQLStore) InsertRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_runs (`+runColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  status = VALUES(status),
  pages = VALUES(pages),
  received = VALUES(received),
  new_count = VALUES(new_count),
  changed_count = VALUES(changed_count),
  unchanged_count = VALUES(unchanged_count),
  rejected_count = VALUES(rejected_count),
  failed_count = VALUES(failed_count),
  rate_limited = VALUES(rate_limited),
  error = VALUES(error),
  finished_at = VALUES(finished_at)
`,
		r.RunID, r.Trigger, r.Category, string(r.Status), r.MaxPages, r.Pages, r.Received,
		r.New, r.Changed, r.Unchanged, r.Rejected, r.Failed, r.RateLimited,
		nullString(r.Error), r.StartedAt.UTC(), nullTime(r.FinishedAt),
	)
	return err
}

func (s *MySQLStore) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return r, true, nil
}

func (s *MySQLStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM crawl_runs
ORDER BY started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (RunRecord, error) {
	var (
		r        RunRecord
		status   string
		errMsg   sql.NullString
		finished sql.NullTime
	)
	err := sc.Scan(&r.RunID, &r.Trigger, &r.Category, &status, &r.MaxPages, &r.Pages, &r.Received,
		&r.New, &r.Changed, &r.Unchanged, &r.Rejected, &r.Failed, &r.RateLimited,
		&errMsg, &r.StartedAt, &finished)
	if err != nil {
		return RunRecord{}, err
	}

	r.Status = domain.RunStatus(status)
	r.Error = errMsg.String
	r.StartedAt = r.StartedAt.UTC()
	if finished.Valid {
		r.FinishedAt = finished.Time.UTC()
	}
	return r, nil
}
