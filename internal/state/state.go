package state

import (
	"context"
	"errors"
	"time"

	"github.com/ETAnderson/pricewatch/internal/domain"
)

// ErrConflict is returned when an insert hits an existing primary key. For
// products and listings this is the expected outcome of a concurrent writer
// winning the race; callers re-fetch.
var ErrConflict = errors.New("state: uniqueness conflict")

// Tx is the set of reads and writes available inside one reconciliation
// transaction. Store implements it too, for autocommit use.
type Tx interface {
	GetProduct(ctx context.Context, goodsID int64) (domain.Product, bool, error)
	// GetProductForUpdate reads the product and holds its row lock until the
	// transaction ends. Writers that derive the aggregate read through it.
	GetProductForUpdate(ctx context.Context, goodsID int64) (domain.Product, bool, error)
	InsertProduct(ctx context.Context, p domain.Product) error
	UpdateProduct(ctx context.Context, p domain.Product) error

	GetListing(ctx context.Context, c2cID string) (domain.Listing, bool, error)
	InsertListing(ctx context.Context, l domain.Listing) error
	UpdateListing(ctx context.Context, l domain.Listing) error
	DeleteListing(ctx context.Context, c2cID string) (bool, error)

	// CheapestListing returns the lowest priced live listing, ties broken by c2c id.
	CheapestListing(ctx context.Context, goodsID int64) (domain.Listing, bool, error)
	// ListListingsByPrice returns all listings for a SKU, cheapest first.
	ListListingsByPrice(ctx context.Context, goodsID int64) ([]domain.Listing, error)

	AppendPriceRecord(ctx context.Context, rec domain.PriceRecord) error
}

type RunRecord struct {
	RunID    string           `json:"run_id"`
	Trigger  string           `json:"trigger"`
	Category string           `json:"category"`
	Status   domain.RunStatus `json:"status"`
	MaxPages int              `json:"max_pages"`

	Pages       int `json:"pages"`
	Received    int `json:"received"`
	New         int `json:"new"`
	Changed     int `json:"changed"`
	Unchanged   int `json:"unchanged"`
	Rejected    int `json:"rejected"`
	Failed      int `json:"failed"`
	RateLimited int `json:"rate_limited"`

	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Store interface {
	Tx

	// WithTx runs fn in one transaction. A non-nil error from fn, or a
	// panic, rolls back every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ListPriceHistory(ctx context.Context, goodsID int64) ([]domain.PriceRecord, error)

	// Key/value configuration
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value, description string) error

	// FavoriteEmails returns the addresses of users who favorited goodsID and
	// have an email on file.
	FavoriteEmails(ctx context.Context, goodsID int64) ([]string, error)

	// Crawl run history
	InsertRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, runID string) (RunRecord, bool, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
