package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/notify"
	"github.com/ETAnderson/pricewatch/internal/state"
)

type recordingSender struct {
	mu      sync.Mutex
	drops   []notify.PriceDrop
	ctxErrs []error
	err     error
}

func (s *recordingSender) Notify(ctx context.Context, p notify.PriceDrop) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops = append(s.drops, p)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err == nil, s.err
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func candidate(goodsID int64, c2cID, p string) domain.Candidate {
	return domain.Candidate{
		GoodsID:     goodsID,
		Name:        "Figure",
		Image:       "https://img/1.png",
		Price:       price(p),
		MarketPrice: price("150"),
		C2CID:       c2cID,
	}
}

func newTestReconciler(store state.Store, sender notify.Sender) *Reconciler {
	r := NewReconciler(store, sender, nil)
	r.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestReconcile_NewProductThenPriceDrop(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	store.AddFavorite(1001, "fan@example.com")
	sender := &recordingSender{}
	r := newTestReconciler(store, sender)

	out, err := r.Reconcile(ctx, candidate(1001, "tx-1", "100"), "2312")
	require.NoError(t, err)
	require.True(t, out.ProductCreated)
	require.True(t, out.ListingCreated)
	require.False(t, out.Aggregate.PriceDrop)
	require.Equal(t, domain.ItemDispositionNew, Disposition(out))

	p, ok, err := store.GetProduct(ctx, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.MinPrice.Equal(price("100")))
	require.True(t, p.HistoricalLowPrice.Equal(price("100")))
	require.Equal(t, "2312", p.Category)
	require.Equal(t, feed.DetailLink("tx-1"), p.Link)
	require.False(t, p.IsOutOfStock)

	ls, _ := store.ListListingsByPrice(ctx, 1001)
	require.Len(t, ls, 1)
	h, _ := store.ListPriceHistory(ctx, 1001)
	require.Len(t, h, 1)

	out, err = r.Reconcile(ctx, candidate(1001, "tx-1", "90"), "2312")
	require.NoError(t, err)
	require.False(t, out.ListingCreated)
	require.True(t, out.PriceChanged)
	require.True(t, out.Aggregate.PriceDrop)
	require.Equal(t, domain.ItemDispositionChanged, Disposition(out))

	l, _, _ := store.GetListing(ctx, "tx-1")
	require.True(t, l.Price.Equal(price("90")))

	h, _ = store.ListPriceHistory(ctx, 1001)
	require.Len(t, h, 2)
	require.True(t, h[0].Price.Equal(price("100")))
	require.True(t, h[1].Price.Equal(price("90")))

	p, _, _ = store.GetProduct(ctx, 1001)
	require.True(t, p.MinPrice.Equal(price("90")))
	require.True(t, p.HistoricalLowPrice.Equal(price("90")))

	require.Len(t, sender.drops, 1)
	d := sender.drops[0]
	require.Equal(t, "fan@example.com", d.Email)
	require.True(t, d.OldPrice.Equal(price("100")))
	require.True(t, d.NewPrice.Equal(price("90")))
	require.Equal(t, feed.DetailLink("tx-1"), d.Link)
}

func TestReconcile_UnchangedSightingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := newTestReconciler(store, nil)

	_, err := r.Reconcile(ctx, candidate(1, "a", "10"), "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out, err := r.Reconcile(ctx, candidate(1, "a", "10.00"), "")
		require.NoError(t, err)
		require.Equal(t, domain.ItemDispositionUnchanged, Disposition(out))
	}

	h, _ := store.ListPriceHistory(ctx, 1)
	require.Len(t, h, 1)
}

func TestReconcile_MinTracksCheapestListing(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := newTestReconciler(store, nil)

	for _, c := range []domain.Candidate{
		candidate(5, "a", "30"),
		candidate(5, "b", "20"),
		candidate(5, "c", "25"),
		candidate(5, "b", "40"),
	} {
		_, err := r.Reconcile(ctx, c, "")
		require.NoError(t, err)
	}

	p, _, _ := store.GetProduct(ctx, 5)
	require.True(t, p.MinPrice.Equal(price("25")), "min=%s", p.MinPrice)
	require.Equal(t, feed.DetailLink("c"), p.Link)
	// historical low never goes back up
	require.True(t, p.HistoricalLowPrice.Equal(price("20")))
}

func TestReconcile_PriceRiseDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	store.AddFavorite(9, "fan@example.com")
	sender := &recordingSender{}
	r := newTestReconciler(store, sender)

	_, err := r.Reconcile(ctx, candidate(9, "a", "10"), "")
	require.NoError(t, err)
	out, err := r.Reconcile(ctx, candidate(9, "a", "12"), "")
	require.NoError(t, err)
	require.False(t, out.Aggregate.PriceDrop)
	require.Empty(t, sender.drops)
}

func TestReconcile_NotifyFailureDoesNotFailCandidate(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	store.AddFavorite(9, "fan@example.com")
	r := newTestReconciler(store, &recordingSender{err: errors.New("smtp down")})

	_, err := r.Reconcile(ctx, candidate(9, "a", "10"), "")
	require.NoError(t, err)
	out, err := r.Reconcile(ctx, candidate(9, "b", "5"), "")
	require.NoError(t, err)
	require.True(t, out.Aggregate.PriceDrop)
}

func TestReconcile_BackfillsEmptyCategoryOnly(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := newTestReconciler(store, nil)

	_, _ = r.Reconcile(ctx, candidate(3, "a", "10"), "")
	_, _ = r.Reconcile(ctx, candidate(3, "a", "10"), "2066")
	_, _ = r.Reconcile(ctx, candidate(3, "a", "10"), "2273")

	p, _, _ := store.GetProduct(ctx, 3)
	require.Equal(t, "2066", p.Category)
}

// racingStore simulates a concurrent writer that inserts the same keys
// between our read and our insert.
type racingStore struct {
	*state.MemoryStore
}

func (s racingStore) WithTx(ctx context.Context, fn func(tx state.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx state.Tx) error {
		return fn(racingTx{Tx: tx})
	})
}

type racingTx struct {
	state.Tx
}

func (t racingTx) InsertProduct(ctx context.Context, p domain.Product) error {
	other := p
	other.Name = "other writer"
	if err := t.Tx.InsertProduct(ctx, other); err != nil {
		return err
	}
	return state.ErrConflict
}

func (t racingTx) InsertListing(ctx context.Context, l domain.Listing) error {
	other := l
	other.Price = l.Price.Add(decimal.NewFromInt(1))
	if err := t.Tx.InsertListing(ctx, other); err != nil {
		return err
	}
	return state.ErrConflict
}

func TestReconcile_RecoversFromUniquenessConflict(t *testing.T) {
	ctx := context.Background()
	mem := state.NewMemoryStore()
	r := newTestReconciler(racingStore{mem}, nil)

	out, err := r.Reconcile(ctx, candidate(77, "x", "10"), "")
	require.NoError(t, err)
	require.False(t, out.ProductCreated)
	require.False(t, out.ListingCreated)
	// the other writer's listing was 11; ours reprices it to 10
	require.True(t, out.PriceChanged)

	p, ok, _ := mem.GetProduct(ctx, 77)
	require.True(t, ok)
	require.Equal(t, "other writer", p.Name)
	require.True(t, p.MinPrice.Equal(price("10")))

	h, _ := mem.ListPriceHistory(ctx, 77)
	require.Len(t, h, 1)
}

type failingTx struct {
	state.Tx
}

func (failingTx) AppendPriceRecord(ctx context.Context, rec domain.PriceRecord) error {
	return errors.New("disk full")
}

type failingStore struct {
	*state.MemoryStore
}

func (s failingStore) WithTx(ctx context.Context, fn func(tx state.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx state.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

func TestReconcile_ErrorRollsBackCandidate(t *testing.T) {
	ctx := context.Background()
	mem := state.NewMemoryStore()
	r := newTestReconciler(failingStore{mem}, nil)

	_, err := r.Reconcile(ctx, candidate(8, "x", "10"), "")
	require.Error(t, err)

	_, ok, _ := mem.GetProduct(ctx, 8)
	require.False(t, ok)
	_, ok, _ = mem.GetListing(ctx, "x")
	require.False(t, ok)
}

func TestRecomputeAggregate_LastListingRemoved(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r := newTestReconciler(store, nil)

	_, err := r.Reconcile(ctx, candidate(2002, "only", "55"), "")
	require.NoError(t, err)

	var agg AggregateChange
	err = store.WithTx(ctx, func(tx state.Tx) error {
		if _, err := tx.DeleteListing(ctx, "only"); err != nil {
			return err
		}
		var err error
		agg, err = r.RecomputeAggregate(ctx, tx, 2002)
		return err
	})
	require.NoError(t, err)
	require.True(t, agg.OutOfStock)

	p, _, _ := store.GetProduct(ctx, 2002)
	require.True(t, p.IsOutOfStock)
	require.Equal(t, "", p.Link)
	require.True(t, p.MinPrice.Equal(price("55")))
}

// lockingTx records which product reads a transaction issues, in order.
type lockingTx struct {
	state.Tx
	calls *[]string
}

func (t lockingTx) GetProduct(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	*t.calls = append(*t.calls, "get")
	return t.Tx.GetProduct(ctx, goodsID)
}

func (t lockingTx) GetProductForUpdate(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	*t.calls = append(*t.calls, "lock")
	return t.Tx.GetProductForUpdate(ctx, goodsID)
}

func (t lockingTx) CheapestListing(ctx context.Context, goodsID int64) (domain.Listing, bool, error) {
	*t.calls = append(*t.calls, "cheapest")
	return t.Tx.CheapestListing(ctx, goodsID)
}

type lockingStore struct {
	*state.MemoryStore
	calls *[]string
}

func (s lockingStore) WithTx(ctx context.Context, fn func(tx state.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx state.Tx) error {
		return fn(lockingTx{Tx: tx, calls: s.calls})
	})
}

func TestReconcile_LocksProductBeforeDerivingAggregate(t *testing.T) {
	ctx := context.Background()
	var calls []string
	store := lockingStore{MemoryStore: state.NewMemoryStore(), calls: &calls}
	r := newTestReconciler(store, nil)

	_, err := r.Reconcile(ctx, candidate(31, "a", "10"), "")
	require.NoError(t, err)
	// upsert, then recompute
	require.Equal(t, []string{"lock", "lock", "cheapest"}, calls)

	calls = nil
	err = store.WithTx(ctx, func(tx state.Tx) error {
		_, err := r.RecomputeAggregate(ctx, tx, 31)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"lock", "cheapest"}, calls)
}

// cancelAfterCommitStore ends the caller's context right after each commit,
// the way a stop request can land between commit and alert.
type cancelAfterCommitStore struct {
	*state.MemoryStore
	cancel context.CancelFunc
}

func (s cancelAfterCommitStore) WithTx(ctx context.Context, fn func(tx state.Tx) error) error {
	err := s.MemoryStore.WithTx(ctx, fn)
	s.cancel()
	return err
}

func TestReconcile_DropCommittedBeforeStopIsStillSent(t *testing.T) {
	mem := state.NewMemoryStore()
	mem.AddFavorite(12, "fan@example.com")
	sender := &recordingSender{}

	r := newTestReconciler(mem, sender)
	_, err := r.Reconcile(context.Background(), candidate(12, "a", "10"), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r = newTestReconciler(cancelAfterCommitStore{MemoryStore: mem, cancel: cancel}, sender)

	out, err := r.Reconcile(ctx, candidate(12, "b", "8"), "")
	require.NoError(t, err)
	require.True(t, out.Aggregate.PriceDrop)
	require.Error(t, ctx.Err())

	require.Len(t, sender.drops, 1)
	require.NoError(t, sender.ctxErrs[0])
	require.True(t, sender.drops[0].NewPrice.Equal(price("8")))
}
