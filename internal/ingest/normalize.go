package ingest

import (
	"strings"

	"github.com/ETAnderson/pricewatch/internal/domain"
	"github.com/ETAnderson/pricewatch/internal/feed"
)

// Rejection names the rule that dropped a raw record. Empty means accepted.
type Rejection string

const (
	RejectMalformed Rejection = "malformed"
	RejectNoDetail  Rejection = "no_detail"
	RejectBundle    Rejection = "bundle"
	RejectBlindBox  Rejection = "blind_box"
	RejectZeroSKU   Rejection = "zero_sku"
	RejectNoC2CID   Rejection = "no_c2c_id"
)

const (
	bundleMarkerA = "等"
	bundleMarkerB = "个商品"
)

// Normalize turns one feed record into a candidate, or reports why it was
// dropped. It is pure: the same input always gives the same answer.
func Normalize(raw feed.RawItem) (domain.Candidate, Rejection) {
	if raw.DecodeErr != nil {
		return domain.Candidate{}, RejectMalformed
	}
	if len(raw.DetailDtoList) == 0 {
		return domain.Candidate{}, RejectNoDetail
	}
	if isBundle(raw) {
		return domain.Candidate{}, RejectBundle
	}

	d := raw.DetailDtoList[0]
	if raw.Type == feed.ItemTypeBlindBox || d.Type == feed.ItemTypeBlindBox {
		return domain.Candidate{}, RejectBlindBox
	}
	if d.ItemsID == 0 {
		return domain.Candidate{}, RejectZeroSKU
	}

	c2cID := strings.TrimSpace(raw.C2CItemsID.String())
	if c2cID == "" {
		return domain.Candidate{}, RejectNoC2CID
	}

	return domain.Candidate{
		GoodsID:     d.ItemsID,
		Name:        strings.TrimSpace(d.Name),
		Image:       absoluteImage(d.Img),
		Price:       raw.ShowPrice,
		MarketPrice: raw.ShowMarketPrice,
		C2CID:       c2cID,
	}, ""
}

// A record is a bundle when it carries several goods, or when its display
// name is the feed's "<first> 等N个商品" form.
func isBundle(raw feed.RawItem) bool {
	if len(raw.DetailDtoList) > 1 {
		return true
	}
	name := raw.C2CItemsName
	return strings.Contains(name, bundleMarkerA) && strings.Contains(name, bundleMarkerB)
}

func absoluteImage(img string) string {
	img = strings.TrimSpace(img)
	switch {
	case img == "":
		return ""
	case strings.HasPrefix(img, "//"):
		return "https:" + img
	case strings.HasPrefix(img, "http://"), strings.HasPrefix(img, "https://"):
		return img
	default:
		return "https://" + strings.TrimLeft(img, "/")
	}
}
