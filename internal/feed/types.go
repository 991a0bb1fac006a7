// Package feed talks to the marketplace C2C listing feed.
package feed

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ItemTypeBlindBox marks mystery-box listings, which never map to one SKU.
const ItemTypeBlindBox = 2

// RawDetail is one underlying goods entry inside a feed record.
type RawDetail struct {
	ItemsID int64  `json:"itemsId"`
	Name    string `json:"name"`
	Img     string `json:"img"`
	Type    int    `json:"type"`
}

// RawItem is one record from the list endpoint, as the feed sends it.
type RawItem struct {
	C2CItemsID      FlexID          `json:"c2cItemsId"`
	Type            int             `json:"type"`
	C2CItemsName    string          `json:"c2cItemsName"`
	TotalItemsCount int             `json:"totalItemsCount"`
	ShowPrice       decimal.Decimal `json:"showPrice"`
	ShowMarketPrice decimal.Decimal `json:"showMarketPrice"`
	DetailDtoList   []RawDetail     `json:"detailDtoList"`

	// DecodeErr is set when the record could not be decoded. Only
	// C2CItemsID may be filled in that case.
	DecodeErr error `json:"-"`
}

// decodeRawItem decodes one record on its own so a bad field only costs
// that record.
func decodeRawItem(b json.RawMessage) RawItem {
	var it RawItem
	if err := json.Unmarshal(b, &it); err != nil {
		var id struct {
			C2CItemsID FlexID `json:"c2cItemsId"`
		}
		_ = json.Unmarshal(b, &id)
		return RawItem{C2CItemsID: id.C2CItemsID, DecodeErr: err}
	}
	return it
}

// Page is one page of the list endpoint. An empty NextCursor means the feed
// has no further pages.
type Page struct {
	Items      []RawItem
	NextCursor string
}

// Request selects one page of the feed.
type Request struct {
	Cursor          string
	Category        string
	PriceFilters    []string
	DiscountFilters []string

	// Template holds extra payload keys from a legacy payload config. The
	// explicit fields above always win.
	Template map[string]any
}

func (r Request) body() map[string]any {
	out := make(map[string]any, len(r.Template)+4)
	for k, v := range r.Template {
		out[k] = v
	}

	out["categoryFilter"] = r.Category
	out["priceFilters"] = nonNil(r.PriceFilters)
	out["discountFilters"] = nonNil(r.DiscountFilters)
	if r.Cursor == "" {
		out["nextId"] = nil
	} else {
		out["nextId"] = r.Cursor
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FlexID accepts both JSON strings and numbers; the feed is not consistent.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

type listEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Data   []json.RawMessage `json:"data"`
		NextID FlexID            `json:"nextId"`
	} `json:"data"`
}

type detailEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		DropReason string `json:"dropReason"`
		SaleStatus int    `json:"saleStatus"`
	} `json:"data"`
}
