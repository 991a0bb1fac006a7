package ingest

import "github.com/ETAnderson/pricewatch/internal/domain"

// Disposition folds an Outcome into the per-page counter it belongs to.
func Disposition(o Outcome) domain.ItemDisposition {
	switch {
	case o.ListingCreated:
		return domain.ItemDispositionNew
	case o.PriceChanged:
		return domain.ItemDispositionChanged
	default:
		return domain.ItemDispositionUnchanged
	}
}
