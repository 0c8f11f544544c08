package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Key returns SHA-256 hex of the normalized ticket location fields. The same
// inputs always hash to the same key across processes, so equal keys mean
// the four fields normalize identically.
func Key(street, intersection, city, county string) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToUpper(strings.TrimSpace(street)),
		strings.ToUpper(strings.TrimSpace(intersection)),
		strings.ToUpper(strings.TrimSpace(city)),
		strings.ToUpper(strings.TrimSpace(county)),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}
