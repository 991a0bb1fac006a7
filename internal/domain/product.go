package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one marketplace SKU and its cached aggregate over live listings.
type Product struct {
	GoodsID     int64           `json:"goods_id"`
	Name        string          `json:"name"`
	Image       string          `json:"img"`
	MarketPrice decimal.Decimal `json:"market_price"`
	Category    string          `json:"category,omitempty"`

	// MinPrice is nil until a price is known. It keeps its last value when
	// the product goes out of stock.
	MinPrice           *decimal.Decimal `json:"min_price"`
	HistoricalLowPrice *decimal.Decimal `json:"historical_low_price"`
	IsOutOfStock       bool             `json:"is_out_of_stock"`
	Link               string           `json:"link"`

	UpdatedAt time.Time `json:"update_time"`
}

// Listing is one seller offer for a SKU, keyed by the marketplace transaction id.
type Listing struct {
	C2CID     string          `json:"c2c_id"`
	GoodsID   int64           `json:"goods_id"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"update_time"`
}

// PriceRecord is an append-only price history entry.
type PriceRecord struct {
	ID         int64           `json:"id"`
	GoodsID    int64           `json:"goods_id"`
	Price      decimal.Decimal `json:"price"`
	C2CID      string          `json:"c2c_id"`
	RecordedAt time.Time       `json:"record_time"`
}

// Candidate is a normalized feed record ready for reconciliation.
type Candidate struct {
	GoodsID     int64           `json:"goods_id"`
	Name        string          `json:"name"`
	Image       string          `json:"img"`
	Price       decimal.Decimal `json:"price"`
	MarketPrice decimal.Decimal `json:"market_price"`
	C2CID       string          `json:"c2c_id"`
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
