package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

const orderNumberPrefix = "ORD"

// NewOrderNumber is human readable, not globally unique. Storage enforces
// uniqueness and callers regenerate on conflict.
func NewOrderNumber(now time.Time) string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return orderNumberPrefix + "-" + now.UTC().Format("20060102-150405") + "-" + strings.ToUpper(hex.EncodeToString(b[:]))
}
