package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
	"github.com/ETAnderson/pricewatch/internal/notify"
	"github.com/ETAnderson/pricewatch/internal/state"
)

// Outcome describes what one Reconcile call changed.
type Outcome struct {
	GoodsID int64  `json:"goods_id"`
	C2CID   string `json:"c2c_id"`

	ProductCreated bool `json:"product_created"`
	ListingCreated bool `json:"listing_created"`
	PriceChanged   bool `json:"price_changed"`

	Aggregate AggregateChange `json:"aggregate"`
}

// AggregateChange is the effect of one RecomputeAggregate.
type AggregateChange struct {
	PreviousMin *decimal.Decimal `json:"previous_min,omitempty"`
	NewMin      *decimal.Decimal `json:"new_min,omitempty"`
	Link        string           `json:"link"`
	OutOfStock  bool             `json:"out_of_stock"`
	PriceDrop   bool             `json:"price_drop"`
}

// Reconciler applies candidates to the store, one transaction each.
type Reconciler struct {
	Store    state.Store
	Notifier notify.Sender
	Logger   *log.Logger

	Now func() time.Time
}

func NewReconciler(store state.Store, notifier notify.Sender, logger *log.Logger) *Reconciler {
	return &Reconciler{Store: store, Notifier: notifier, Logger: logger}
}

// Reconcile upserts the product and listing for c, recomputes the product
// aggregate, and after commit alerts favoriting users on a price drop.
// On error nothing from this candidate is persisted.
func (r *Reconciler) Reconcile(ctx context.Context, c domain.Candidate, category string) (Outcome, error) {
	now := r.now()
	out := Outcome{GoodsID: c.GoodsID, C2CID: c.C2CID}
	var product domain.Product

	err := r.Store.WithTx(ctx, func(tx state.Tx) error {
		created, err := upsertProduct(ctx, tx, c, category, now)
		if err != nil {
			return err
		}
		out.ProductCreated = created

		created, changed, err := upsertListing(ctx, tx, c, now)
		if err != nil {
			return err
		}
		out.ListingCreated = created
		out.PriceChanged = changed

		agg, p, err := recompute(ctx, tx, c.GoodsID, now)
		if err != nil {
			return err
		}
		out.Aggregate = agg
		product = p
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile goods_id=%d c2c_id=%s: %w", c.GoodsID, c.C2CID, err)
	}

	if out.ProductCreated {
		r.logf("new product goods_id=%d %q price=%s", c.GoodsID, c.Name, c.Price.StringFixed(2))
	}
	if out.Aggregate.PriceDrop {
		r.logf("price drop goods_id=%d %q %s -> %s",
			c.GoodsID, product.Name, out.Aggregate.PreviousMin.StringFixed(2), out.Aggregate.NewMin.StringFixed(2))
		r.notifyDrop(ctx, product, out.Aggregate)
	}

	return out, nil
}

// RecomputeAggregate refreshes MinPrice, Link, IsOutOfStock and
// HistoricalLowPrice of one product from its live listings.
func (r *Reconciler) RecomputeAggregate(ctx context.Context, tx state.Tx, goodsID int64) (AggregateChange, error) {
	agg, _, err := recompute(ctx, tx, goodsID, r.now())
	return agg, err
}

// NotifyDrop alerts favoriting users of a drop found outside Reconcile.
func (r *Reconciler) NotifyDrop(ctx context.Context, goodsID int64, agg AggregateChange) {
	if !agg.PriceDrop {
		return
	}
	p, ok, err := r.Store.GetProduct(context.WithoutCancel(ctx), goodsID)
	if err != nil || !ok {
		return
	}
	r.notifyDrop(ctx, p, agg)
}

func upsertProduct(ctx context.Context, tx state.Tx, c domain.Candidate, category string, now time.Time) (bool, error) {
	p, ok, err := tx.GetProductForUpdate(ctx, c.GoodsID)
	if err != nil {
		return false, err
	}

	if !ok {
		p = domain.Product{
			GoodsID:     c.GoodsID,
			Name:        c.Name,
			Image:       c.Image,
			MarketPrice: c.MarketPrice,
			Category:    category,
			MinPrice:    domain.DecimalPtr(c.Price),
			Link:        feed.DetailLink(c.C2CID),
			UpdatedAt:   now,
		}
		err := tx.InsertProduct(ctx, p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, state.ErrConflict) {
			return false, err
		}

		// Another writer created it first.
		p, ok, err = tx.GetProductForUpdate(ctx, c.GoodsID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("product %d missing after conflict", c.GoodsID)
		}
	}

	p.UpdatedAt = now
	if p.Category == "" && category != "" {
		p.Category = category
	}
	return false, tx.UpdateProduct(ctx, p)
}

// upsertListing reports (created, priceChanged).
func upsertListing(ctx context.Context, tx state.Tx, c domain.Candidate, now time.Time) (bool, bool, error) {
	l, ok, err := tx.GetListing(ctx, c.C2CID)
	if err != nil {
		return false, false, err
	}

	if !ok {
		l = domain.Listing{C2CID: c.C2CID, GoodsID: c.GoodsID, Price: c.Price, UpdatedAt: now}
		err := tx.InsertListing(ctx, l)
		if err == nil {
			return true, false, appendHistory(ctx, tx, c, now)
		}
		if !errors.Is(err, state.ErrConflict) {
			return false, false, err
		}

		l, ok, err = tx.GetListing(ctx, c.C2CID)
		if err != nil {
			return false, false, err
		}
		if !ok {
			return false, false, fmt.Errorf("listing %s missing after conflict", c.C2CID)
		}
	}

	changed := !l.Price.Equal(c.Price)
	l.GoodsID = c.GoodsID
	l.Price = c.Price
	l.UpdatedAt = now
	if err := tx.UpdateListing(ctx, l); err != nil {
		return false, false, err
	}
	if changed {
		return false, true, appendHistory(ctx, tx, c, now)
	}
	return false, false, nil
}

func appendHistory(ctx context.Context, tx state.Tx, c domain.Candidate, now time.Time) error {
	return tx.AppendPriceRecord(ctx, domain.PriceRecord{
		GoodsID:    c.GoodsID,
		Price:      c.Price,
		C2CID:      c.C2CID,
		RecordedAt: now,
	})
}

// recompute locks the product row before reading listings so two writers
// cannot derive the aggregate from the same stale snapshot.
func recompute(ctx context.Context, tx state.Tx, goodsID int64, now time.Time) (AggregateChange, domain.Product, error) {
	p, ok, err := tx.GetProductForUpdate(ctx, goodsID)
	if err != nil {
		return AggregateChange{}, domain.Product{}, err
	}
	if !ok {
		return AggregateChange{}, domain.Product{}, nil
	}

	cheapest, found, err := tx.CheapestListing(ctx, goodsID)
	if err != nil {
		return AggregateChange{}, domain.Product{}, err
	}

	agg := AggregateChange{PreviousMin: p.MinPrice}
	if found {
		price := cheapest.Price
		agg.PriceDrop = p.MinPrice != nil && price.LessThan(*p.MinPrice)

		p.MinPrice = domain.DecimalPtr(price)
		p.Link = feed.DetailLink(cheapest.C2CID)
		p.IsOutOfStock = false
		if p.HistoricalLowPrice == nil || price.LessThan(*p.HistoricalLowPrice) {
			p.HistoricalLowPrice = domain.DecimalPtr(price)
		}
	} else {
		// MinPrice keeps its last value.
		p.IsOutOfStock = true
		p.Link = ""
	}
	p.UpdatedAt = now

	if err := tx.UpdateProduct(ctx, p); err != nil {
		return AggregateChange{}, domain.Product{}, err
	}

	agg.NewMin = p.MinPrice
	agg.Link = p.Link
	agg.OutOfStock = p.IsOutOfStock
	return agg, p, nil
}

// notifyDrop runs after commit, so a stop must not swallow the alert.
func (r *Reconciler) notifyDrop(ctx context.Context, p domain.Product, agg AggregateChange) {
	if r.Notifier == nil || agg.PreviousMin == nil || agg.NewMin == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	emails, err := r.Store.FavoriteEmails(ctx, p.GoodsID)
	if err != nil {
		r.logf("favorites lookup failed goods_id=%d: %v", p.GoodsID, err)
		return
	}

	for _, email := range emails {
		_, err := r.Notifier.Notify(ctx, notify.PriceDrop{
			Email:       email,
			GoodsID:     p.GoodsID,
			ProductName: p.Name,
			OldPrice:    *agg.PreviousMin,
			NewPrice:    *agg.NewMin,
			Link:        agg.Link,
			ImageURL:    p.Image,
		})
		if err != nil {
			r.logf("notify failed goods_id=%d to=%s: %v", p.GoodsID, email, err)
		}
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) logf(format string, args ...any) {
	l := r.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}
