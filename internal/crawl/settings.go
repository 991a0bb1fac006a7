package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ETAnderson/pricewatch/internal/feed"
)

// Config keys in the key/value store.
const (
	KeyHeaders         = "headers"
	KeyUserCookie      = "user_cookie"
	KeyFilterSettings  = "filter_settings"
	KeyPayload         = "payload"
	KeyRequestInterval = "request_interval"
	KeyCategoryWeights = "category_weights"

	KeyAutoScrapeMaxPages    = "auto_scrape_max_pages"
	KeySchedulerEnabled      = "scheduler_enabled"
	KeyScrapeIntervalMinutes = "scrape_interval_minutes"
)

const (
	DefaultCategory        = "2312"
	DefaultRequestInterval = 3 * time.Second
	DefaultMaxPages        = 50
	DefaultScrapeInterval  = 60 * time.Minute

	// WildcardCategory, like an empty category, asks for a weighted draw.
	WildcardCategory = "*"
)

// DefaultCategories is the draw set when the category is a wildcard.
var DefaultCategories = []string{"2312", "2066", "2331", "2273", "fudai_cate_id"}

var defaultPriceFilters = []string{"0-2000", "3000-5000", "20000-0", "5000-10000", "2000-3000", "10000-20000", "20000-0"}

// ConfigStore is the key/value configuration the crawl reads.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value, description string) error
}

// Settings is everything one crawl run reads from configuration. It is
// loaded once at the start of each run.
type Settings struct {
	Feed feed.Settings

	Category        string
	PriceFilters    []string
	DiscountFilters []string
	Template        map[string]any

	Interval        time.Duration
	CategoryWeights map[string]float64
}

type filterSettings struct {
	Category        *string  `json:"category"`
	PriceFilters    []string `json:"priceFilters"`
	DiscountFilters []string `json:"discountFilters"`
}

// LoadSettings resolves crawl settings from the store. Missing headers and
// payload entries are seeded with defaults so operators can edit them.
func LoadSettings(ctx context.Context, store ConfigStore) (Settings, error) {
	s := Settings{
		Category:        DefaultCategory,
		PriceFilters:    append([]string(nil), defaultPriceFilters...),
		DiscountFilters: []string{},
		Interval:        DefaultRequestInterval,
	}

	headers, err := loadHeaders(ctx, store)
	if err != nil {
		return Settings{}, err
	}

	cookie, _, err := store.GetConfig(ctx, KeyUserCookie)
	if err != nil {
		return Settings{}, err
	}
	cookie = strings.TrimSpace(cookie)
	for k, v := range headers {
		if strings.EqualFold(k, "cookie") {
			if cookie == "" {
				cookie = strings.TrimSpace(v)
			}
			delete(headers, k)
		}
	}
	s.Feed = feed.Settings{Headers: headers, Cookie: cookie}

	if err := loadFilters(ctx, store, &s); err != nil {
		return Settings{}, err
	}

	if v, ok, err := store.GetConfig(ctx, KeyRequestInterval); err != nil {
		return Settings{}, err
	} else if ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			s.Interval = time.Duration(f * float64(time.Second))
		}
	}

	if v, ok, err := store.GetConfig(ctx, KeyCategoryWeights); err != nil {
		return Settings{}, err
	} else if ok && strings.TrimSpace(v) != "" {
		var w map[string]float64
		if err := json.Unmarshal([]byte(v), &w); err == nil {
			s.CategoryWeights = w
		}
	}

	return s, nil
}

func loadHeaders(ctx context.Context, store ConfigStore) (map[string]string, error) {
	raw, ok, err := store.GetConfig(ctx, KeyHeaders)
	if err != nil {
		return nil, err
	}

	if !ok {
		headers := feed.DefaultHeaders()
		b, _ := json.Marshal(headers)
		if err := store.SetConfig(ctx, KeyHeaders, string(b), "Request Headers"); err != nil {
			return nil, fmt.Errorf("seed headers: %w", err)
		}
		return headers, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return feed.DefaultHeaders(), nil
	}

	headers := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch tv := v.(type) {
		case string:
			headers[k] = tv
		case nil:
		default:
			headers[k] = fmt.Sprint(tv)
		}
	}
	return headers, nil
}

func loadFilters(ctx context.Context, store ConfigStore, s *Settings) error {
	raw, ok, err := store.GetConfig(ctx, KeyFilterSettings)
	if err != nil {
		return err
	}
	if ok {
		var fs filterSettings
		if err := json.Unmarshal([]byte(raw), &fs); err == nil {
			if fs.Category != nil {
				s.Category = strings.TrimSpace(*fs.Category)
			}
			if fs.PriceFilters != nil {
				s.PriceFilters = fs.PriceFilters
			}
			if fs.DiscountFilters != nil {
				s.DiscountFilters = fs.DiscountFilters
			}
			return nil
		}
	}

	raw, ok, err = store.GetConfig(ctx, KeyPayload)
	if err != nil {
		return err
	}
	if !ok {
		b, _ := json.Marshal(map[string]any{
			"categoryFilter":  s.Category,
			"priceFilters":    s.PriceFilters,
			"discountFilters": s.DiscountFilters,
			"nextId":          nil,
		})
		if err := store.SetConfig(ctx, KeyPayload, string(b), "Request Payload Template"); err != nil {
			return fmt.Errorf("seed payload: %w", err)
		}
		return nil
	}

	var tmpl map[string]any
	if err := json.Unmarshal([]byte(raw), &tmpl); err != nil {
		return nil
	}
	if v, ok := tmpl["categoryFilter"].(string); ok {
		s.Category = strings.TrimSpace(v)
	}
	if v, ok := stringSlice(tmpl["priceFilters"]); ok {
		s.PriceFilters = v
	}
	if v, ok := stringSlice(tmpl["discountFilters"]); ok {
		s.DiscountFilters = v
	}
	delete(tmpl, "nextId")
	s.Template = tmpl
	return nil
}

func stringSlice(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// ResolveCategory returns the configured category, or for a wildcard one
// weighted draw over the category set. r must be in [0,1). Categories
// without a configured weight get 1.0; a non-positive weight excludes one.
func ResolveCategory(configured string, weights map[string]float64, r float64) string {
	configured = strings.TrimSpace(configured)
	if configured != "" && configured != WildcardCategory {
		return configured
	}

	set := make(map[string]struct{}, len(DefaultCategories)+len(weights))
	for _, c := range DefaultCategories {
		set[c] = struct{}{}
	}
	for c := range weights {
		set[c] = struct{}{}
	}
	cats := make([]string, 0, len(set))
	for c := range set {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	ws := make([]float64, len(cats))
	total := 0.0
	for i, c := range cats {
		w := 1.0
		if v, ok := weights[c]; ok {
			w = v
		}
		if w < 0 {
			w = 0
		}
		ws[i] = w
		total += w
	}
	if total <= 0 {
		return DefaultCategory
	}

	x := r * total
	for i, c := range cats {
		if x < ws[i] {
			return c
		}
		x -= ws[i]
	}
	// r close to 1 with float rounding
	for i := len(cats) - 1; i >= 0; i-- {
		if ws[i] > 0 {
			return cats[i]
		}
	}
	return DefaultCategory
}

// Schedule is the periodic-crawl configuration.
type Schedule struct {
	Enabled  bool
	Interval time.Duration
	MaxPages int
}

// LoadSchedule reads scheduler settings, falling back to defaults for
// missing or unparsable values.
func LoadSchedule(ctx context.Context, store ConfigStore) (Schedule, error) {
	s := Schedule{Enabled: true, Interval: DefaultScrapeInterval, MaxPages: DefaultMaxPages}

	if v, ok, err := store.GetConfig(ctx, KeySchedulerEnabled); err != nil {
		return Schedule{}, err
	} else if ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "false", "0", "no", "off":
			s.Enabled = false
		}
	}

	if v, ok, err := store.GetConfig(ctx, KeyScrapeIntervalMinutes); err != nil {
		return Schedule{}, err
	} else if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			s.Interval = time.Duration(n) * time.Minute
		}
	}

	if v, ok, err := store.GetConfig(ctx, KeyAutoScrapeMaxPages); err != nil {
		return Schedule{}, err
	} else if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && (n > 0 || n == -1) {
			s.MaxPages = n
		}
	}

	return s, nil
}
