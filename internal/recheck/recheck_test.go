package recheck

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/ingest"
	"github.com/ETAnderson/pricewatch/internal/runstate"
	"github.com/ETAnderson/pricewatch/internal/state"
)

type fakeVerifier struct {
	mu       sync.Mutex
	verdicts map[string]feed.Verdict
	calls    []string
}

func (f *fakeVerifier) CheckItemStatus(ctx context.Context, c2cID string, s feed.Settings) feed.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c2cID)
	if v, ok := f.verdicts[c2cID]; ok {
		return v
	}
	return feed.VerdictValid
}

func seed(t *testing.T, store *state.MemoryStore, goodsID int64, prices map[string]string) {
	t.Helper()
	r := ingest.NewReconciler(store, nil, nil)
	for id, p := range prices {
		_, err := r.Reconcile(context.Background(), domain.Candidate{
			GoodsID: goodsID,
			Name:    "Figure",
			Price:   decimal.RequireFromString(p),
			C2CID:   id,
		}, "")
		require.NoError(t, err)
	}
}

func newChecker(store state.Store, v Verifier) *Checker {
	r := ingest.NewReconciler(store, nil, nil)
	r.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return &Checker{Store: store, Verifier: v, Reconciler: r, RunState: runstate.New()}
}

func TestCheck_RemovesExactlyInvalidListings(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	seed(t, store, 1, map[string]string{"a": "10", "b": "20", "c": "30", "d": "40", "e": "50"})

	v := &fakeVerifier{verdicts: map[string]feed.Verdict{
		"a": feed.VerdictInvalid,
		"c": feed.VerdictInvalid,
	}}
	res, err := newChecker(store, v).Check(ctx, 1)
	require.NoError(t, err)

	require.Equal(t, 5, res.Checked)
	require.Equal(t, 3, res.Valid)
	require.Equal(t, 2, res.Removed)
	require.ElementsMatch(t, []string{"a", "c"}, res.RemovedIDs)

	left, _ := store.ListListingsByPrice(ctx, 1)
	require.Len(t, left, 3)

	p, _, _ := store.GetProduct(ctx, 1)
	require.True(t, p.MinPrice.Equal(decimal.NewFromInt(20)))
	require.Equal(t, feed.DetailLink("b"), p.Link)
	require.False(t, p.IsOutOfStock)
}

func TestCheck_StopsAtTargetValid(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	seed(t, store, 1, map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5", "f": "6"})

	v := &fakeVerifier{}
	res, err := newChecker(store, v).Check(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, res.Checked)
	require.ElementsMatch(t, []string{"a", "b", "c"}, v.calls)
	require.Nil(t, res.Aggregate)
}

func TestCheck_NeverExceedsBudget(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	ids := map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5", "f": "6", "g": "7"}
	seed(t, store, 1, ids)

	verdicts := map[string]feed.Verdict{}
	for id := range ids {
		verdicts[id] = feed.VerdictInvalid
	}
	v := &fakeVerifier{verdicts: verdicts}

	res, err := newChecker(store, v).Check(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 5, res.Checked)
	require.Len(t, v.calls, 5)
	require.Equal(t, 5, res.Removed)

	left, _ := store.ListListingsByPrice(ctx, 1)
	require.Len(t, left, 2)
	require.Equal(t, "f", left[0].C2CID)
}

func TestCheck_UnknownCountsAsValid(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	seed(t, store, 1, map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"})

	v := &fakeVerifier{verdicts: map[string]feed.Verdict{
		"a": feed.VerdictUnknown,
		"b": feed.VerdictUnknown,
		"c": feed.VerdictUnknown,
	}}
	res, err := newChecker(store, v).Check(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, res.Checked)
	require.Equal(t, 0, res.Removed)

	left, _ := store.ListListingsByPrice(ctx, 1)
	require.Len(t, left, 4)
}

func TestCheck_LastListingGoesOutOfStock(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	seed(t, store, 2002, map[string]string{"only": "88"})

	v := &fakeVerifier{verdicts: map[string]feed.Verdict{"only": feed.VerdictInvalid}}
	res, err := newChecker(store, v).Check(ctx, 2002)
	require.NoError(t, err)
	require.Equal(t, 1, res.Removed)
	require.NotNil(t, res.Aggregate)
	require.True(t, res.Aggregate.OutOfStock)

	p, _, _ := store.GetProduct(ctx, 2002)
	require.True(t, p.IsOutOfStock)
	require.Equal(t, "", p.Link)
	require.True(t, p.MinPrice.Equal(decimal.NewFromInt(88)))
}

func TestCheck_StopRequestedBeforeStart(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	seed(t, store, 1, map[string]string{"a": "1", "b": "2"})

	v := &fakeVerifier{}
	c := newChecker(store, v)
	c.RunState.RequestStop()

	res, err := c.Check(ctx, 1)
	require.NoError(t, err)
	require.True(t, res.Stopped)
	require.Equal(t, 0, res.Checked)
	require.Empty(t, v.calls)
}

func TestCheck_NoListings(t *testing.T) {
	res, err := newChecker(state.NewMemoryStore(), &fakeVerifier{}).Check(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, 0, res.Checked)
	require.False(t, res.Stopped)
}

func TestCheck_ReportsProgress(t *testing.T) {
	store := state.NewMemoryStore()
	seed(t, store, 1, map[string]string{"a": "1", "b": "2"})

	c := newChecker(store, &fakeVerifier{})
	var seen []int
	c.Progress = func(checked, budget int) {
		require.Equal(t, 2, budget)
		seen = append(seen, checked)
	}

	_, err := c.Check(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, seen)
}
