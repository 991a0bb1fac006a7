package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ETAnderson/pricewatch/internal/metrics"
)

const (
	DefaultBaseURL = "https://mall.bilibili.com"

	listPath   = "/mall-magic-c/internet/c2c/v2/list"
	detailPath = "/mall-magic-c/internet/c2c/items/queryC2cItemsDetail"

	detailLinkFormat = "https://mall.bilibili.com/neul-next/index.html?page=magic-market_detail&noTitleBar=1&itemsId=%s&from=market_index"

	// Detail calls are preceded by a random pause in [min, min+spread).
	detailDelayMin    = 500 * time.Millisecond
	detailDelaySpread = time.Second
)

// DetailLink is the public deep link for one listing.
func DetailLink(c2cID string) string {
	return fmt.Sprintf(detailLinkFormat, c2cID)
}

// Client issues list and detail requests. It keeps no state between calls;
// headers and filters come from the caller every time.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// Sleep and Jitter are test seams for the pre-detail delay.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: timeout},
		Sleep:   SleepContext,
		Jitter:  rand.Float64,
	}
}

// ListPage fetches one page of listings. Records are decoded one by one; a
// record that does not decode comes back with DecodeErr set.
//
// Errors wrap ErrRateLimited, ErrTransientNetwork or ErrMalformedResponse,
// or are the context error if ctx ended first.
func (c *Client) ListPage(ctx context.Context, req Request, s Settings) (Page, error) {
	payload, err := json.Marshal(req.body())
	if err != nil {
		return Page{}, err
	}

	start := time.Now()
	body, status, err := c.do(ctx, http.MethodPost, c.BaseURL+listPath, bytes.NewReader(payload), s)
	metrics.FeedRequestDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	metrics.FeedRequests.WithLabelValues("list", outcomeLabel(status, err)).Inc()

	if err != nil {
		return Page{}, err
	}
	if err := classifyStatus(status); err != nil {
		return Page{}, err
	}

	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Page{}, fmt.Errorf("%w: decode list: %v", ErrMalformedResponse, err)
	}
	if env.Data == nil {
		return Page{}, fmt.Errorf("%w: list envelope has no data (code=%d message=%q)", ErrMalformedResponse, env.Code, env.Message)
	}

	items := make([]RawItem, 0, len(env.Data.Data))
	for _, b := range env.Data.Data {
		items = append(items, decodeRawItem(b))
	}

	return Page{
		Items:      items,
		NextCursor: env.Data.NextID.String(),
	}, nil
}

// CheckItemStatus asks the detail endpoint whether a listing is still on sale.
// Anything ambiguous is VerdictUnknown; callers must treat that as valid.
func (c *Client) CheckItemStatus(ctx context.Context, c2cID string, s Settings) Verdict {
	if err := c.pause(ctx); err != nil {
		return VerdictUnknown
	}

	u := c.BaseURL + detailPath + "?c2cItemsId=" + url.QueryEscape(c2cID)

	start := time.Now()
	body, status, err := c.do(ctx, http.MethodGet, u, nil, s)
	metrics.FeedRequestDuration.WithLabelValues("detail").Observe(time.Since(start).Seconds())
	metrics.FeedRequests.WithLabelValues("detail", outcomeLabel(status, err)).Inc()

	if err != nil || classifyStatus(status) != nil {
		return VerdictUnknown
	}

	var env detailEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return VerdictUnknown
	}

	// A non-zero code without data is how the feed reports throttling and
	// auth trouble, so it says nothing about the listing.
	if env.Code != 0 {
		return VerdictUnknown
	}
	if env.Data == nil {
		return VerdictInvalid
	}
	if strings.TrimSpace(env.Data.DropReason) != "" {
		return VerdictInvalid
	}
	if env.Data.SaleStatus != 1 {
		return VerdictInvalid
	}
	return VerdictValid
}

func (c *Client) pause(ctx context.Context) error {
	jitter := c.Jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	d := detailDelayMin + time.Duration(jitter()*float64(detailDelaySpread))
	return sleep(ctx, d)
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, s Settings) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, err
	}

	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Cookie != "" {
		req.Header.Set("Cookie", s.Cookie)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, resp.StatusCode, ctxErr
		}
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrTransientNetwork, err)
	}

	return b, resp.StatusCode, nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 200 && status < 300:
		return nil
	default:
		return fmt.Errorf("%w: http status %d", ErrTransientNetwork, status)
	}
}

func outcomeLabel(status int, err error) string {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "cancelled"
		}
		return "error"
	}
	return strconv.Itoa(status)
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
