package crawl

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRunID creates a random crawl run id for logs, run records and API
// responses. Format: "run_" + 16 bytes hex.
func NewRunID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "run_" + hex.EncodeToString(b), nil
}
