// Package notify delivers price-drop alerts to users who favorited a SKU.
package notify

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"github.com/ETAnderson/pricewatch/internal/metrics"
)

// PriceDrop is one alert for one recipient.
type PriceDrop struct {
	Email       string
	GoodsID     int64
	ProductName string
	OldPrice    decimal.Decimal
	NewPrice    decimal.Decimal
	Link        string
	ImageURL    string
}

// DropPercent is the relative decrease, 0 when OldPrice is not positive.
func (p PriceDrop) DropPercent() decimal.Decimal {
	if !p.OldPrice.IsPositive() {
		return decimal.Zero
	}
	return p.OldPrice.Sub(p.NewPrice).Div(p.OldPrice).Mul(decimal.NewFromInt(100)).Round(1)
}

// Sender delivers one alert. sent=false with a nil error means the alert was
// intentionally skipped (no transport configured, duplicate).
type Sender interface {
	Notify(ctx context.Context, p PriceDrop) (sent bool, err error)
}

// LogSender only logs. Used when no mail transport is configured.
type LogSender struct {
	Logger *log.Logger
}

func (s LogSender) Notify(ctx context.Context, p PriceDrop) (bool, error) {
	l := s.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("price drop goods_id=%d to=%s %s -> %s (%s%%) %s",
		p.GoodsID, p.Email, p.OldPrice.StringFixed(2), p.NewPrice.StringFixed(2), p.DropPercent().String(), p.Link)
	metrics.Notifications.WithLabelValues("logged").Inc()
	return true, nil
}
