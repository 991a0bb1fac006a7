package state

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ETAnderson/pricewatch/internal/domain"
)

type memData struct {
	products  map[int64]domain.Product
	listings  map[string]domain.Listing
	history   []domain.PriceRecord
	historyID int64

	config    map[string]string
	favorites map[int64][]string // goods_id -> emails
	runs      map[string]RunRecord
}

func newMemData() *memData {
	return &memData{
		products:  make(map[int64]domain.Product),
		listings:  make(map[string]domain.Listing),
		config:    make(map[string]string),
		favorites: make(map[int64][]string),
		runs:      make(map[string]RunRecord),
	}
}

func (d *memData) clone() *memData {
	out := &memData{
		products:  make(map[int64]domain.Product, len(d.products)),
		listings:  make(map[string]domain.Listing, len(d.listings)),
		history:   make([]domain.PriceRecord, len(d.history)),
		historyID: d.historyID,
		config:    d.config,
		favorites: d.favorites,
		runs:      d.runs,
	}
	for k, v := range d.products {
		out.products[k] = v
	}
	for k, v := range d.listings {
		out.listings[k] = v
	}
	copy(out.history, d.history)
	return out
}

// MemoryStore keeps everything in process memory. Transactions take the
// store lock for their whole duration and work on a copy that replaces the
// live data on commit.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(memTx{d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data = work
	return nil
}

func (s *MemoryStore) read() memTx {
	return memTx{d: s.data}
}

func (s *MemoryStore) GetProduct(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetProduct(ctx, goodsID)
}

func (s *MemoryStore) GetProductForUpdate(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	return s.GetProduct(ctx, goodsID)
}

func (s *MemoryStore) InsertProduct(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertProduct(ctx, p)
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateProduct(ctx, p)
}

func (s *MemoryStore) GetListing(ctx context.Context, c2cID string) (domain.Listing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetListing(ctx, c2cID)
}

func (s *MemoryStore) InsertListing(ctx context.Context, l domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertListing(ctx, l)
}

func (s *MemoryStore) UpdateListing(ctx context.Context, l domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateListing(ctx, l)
}

func (s *MemoryStore) DeleteListing(ctx context.Context, c2cID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteListing(ctx, c2cID)
}

func (s *MemoryStore) CheapestListing(ctx context.Context, goodsID int64) (domain.Listing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CheapestListing(ctx, goodsID)
}

func (s *MemoryStore) ListListingsByPrice(ctx context.Context, goodsID int64) ([]domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListListingsByPrice(ctx, goodsID)
}

func (s *MemoryStore) AppendPriceRecord(ctx context.Context, rec domain.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AppendPriceRecord(ctx, rec)
}

func (s *MemoryStore) ListPriceHistory(ctx context.Context, goodsID int64) ([]domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PriceRecord, 0, 8)
	for _, r := range s.data.history {
		if r.GoodsID == goodsID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data.config[key]
	return v, ok, nil
}

func (s *MemoryStore) SetConfig(ctx context.Context, key, value, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.config[key] = value
	return nil
}

// AddFavorite registers a user's favorite. Users without an email are
// skipped at read time, so email may be empty.
func (s *MemoryStore) AddFavorite(goodsID int64, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.favorites[goodsID] = append(s.data.favorites[goodsID], email)
}

func (s *MemoryStore) FavoriteEmails(ctx context.Context, goodsID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data.favorites[goodsID]))
	for _, e := range s.data.favorites[goodsID] {
		if strings.TrimSpace(e) == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) InsertRun(ctx context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data.runs[runID]
	return r, ok, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunRecord, 0, len(s.data.runs))
	for _, r := range s.data.runs {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if limit <= 0 || limit > len(out) {
		return out, nil
	}
	return out[:limit], nil
}

// memTx operates on one memData without locking; the owner holds the lock.
type memTx struct {
	d *memData
}

func (t memTx) GetProduct(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	p, ok := t.d.products[goodsID]
	return p, ok, nil
}

// GetProductForUpdate is a plain read; WithTx already serializes writers.
func (t memTx) GetProductForUpdate(ctx context.Context, goodsID int64) (domain.Product, bool, error) {
	return t.GetProduct(ctx, goodsID)
}

func (t memTx) InsertProduct(ctx context.Context, p domain.Product) error {
	if _, ok := t.d.products[p.GoodsID]; ok {
		return ErrConflict
	}
	t.d.products[p.GoodsID] = p
	return nil
}

func (t memTx) UpdateProduct(ctx context.Context, p domain.Product) error {
	t.d.products[p.GoodsID] = p
	return nil
}

func (t memTx) GetListing(ctx context.Context, c2cID string) (domain.Listing, bool, error) {
	l, ok := t.d.listings[c2cID]
	return l, ok, nil
}

func (t memTx) InsertListing(ctx context.Context, l domain.Listing) error {
	if _, ok := t.d.listings[l.C2CID]; ok {
		return ErrConflict
	}
	t.d.listings[l.C2CID] = l
	return nil
}

func (t memTx) UpdateListing(ctx context.Context, l domain.Listing) error {
	t.d.listings[l.C2CID] = l
	return nil
}

func (t memTx) DeleteListing(ctx context.Context, c2cID string) (bool, error) {
	if _, ok := t.d.listings[c2cID]; !ok {
		return false, nil
	}
	delete(t.d.listings, c2cID)
	return true, nil
}

func (t memTx) CheapestListing(ctx context.Context, goodsID int64) (domain.Listing, bool, error) {
	ls, _ := t.ListListingsByPrice(ctx, goodsID)
	if len(ls) == 0 {
		return domain.Listing{}, false, nil
	}
	return ls[0], true, nil
}

func (t memTx) ListListingsByPrice(ctx context.Context, goodsID int64) ([]domain.Listing, error) {
	out := make([]domain.Listing, 0, 8)
	for _, l := range t.d.listings {
		if l.GoodsID == goodsID {
			out = append(out, l)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Price.Cmp(out[j].Price); c != 0 {
			return c < 0
		}
		return out[i].C2CID < out[j].C2CID
	})
	return out, nil
}

func (t memTx) AppendPriceRecord(ctx context.Context, rec domain.PriceRecord) error {
	t.d.historyID++
	rec.ID = t.d.historyID
	t.d.history = append(t.d.history, rec)
	return nil
}
