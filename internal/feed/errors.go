package feed

import "errors"

var (
	// ErrRateLimited means the feed answered 429. Back off and retry the same page.
	ErrRateLimited = errors.New("feed: rate limited")

	// ErrTransientNetwork covers timeouts, transport failures and 5xx answers.
	ErrTransientNetwork = errors.New("feed: transient network error")

	// ErrMalformedResponse means the expected envelope fields were absent.
	ErrMalformedResponse = errors.New("feed: malformed response")
)

// Verdict is the outcome of a single listing detail check.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictValid
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}
