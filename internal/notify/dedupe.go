package notify

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ETAnderson/pricewatch/internal/metrics"
)

// Deduper suppresses an alert already sent for the same recipient, SKU and
// price. Delivery stays at-most-once per process; a restart forgets.
type Deduper struct {
	Next  Sender
	cache *lru.Cache
}

func NewDeduper(next Sender, size int) (*Deduper, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Deduper{Next: next, cache: cache}, nil
}

func (d *Deduper) Notify(ctx context.Context, p PriceDrop) (bool, error) {
	key := fmt.Sprintf("%s|%d|%s", p.Email, p.GoodsID, p.NewPrice.StringFixed(2))
	if d.cache.Contains(key) {
		metrics.Notifications.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	sent, err := d.Next.Notify(ctx, p)
	if err != nil {
		return false, err
	}
	if sent {
		d.cache.Add(key, struct{}{})
	}
	return sent, nil
}
