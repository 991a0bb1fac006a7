package feed

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Settings are the request headers and cookie supplied per call. The cookie
// is sent separately so it can be rotated without touching headers.
type Settings struct {
	Headers map[string]string `validate:"required"`
	Cookie  string            `validate:"required,min=10"`
}

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("feed settings: %w", err)
	}
	return nil
}

// DefaultHeaders is written to config the first time a crawl runs without one.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"authority":       "mall.bilibili.com",
		"accept":          "application/json, text/plain, */*",
		"accept-language": "zh-CN,zh;q=0.9,en;q=0.8",
		"content-type":    "application/json",
		"referer":         "https://mall.bilibili.com/neul-next/index.html?page=magic-market_index",
		"user-agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
	}
}
