package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// URLKey produces a stable cache key for an already-normalized URL.
func URLKey(normalizedURL string) string {
	hash := md5.Sum([]byte(strings.TrimSpace(normalizedURL)))
	return fmt.Sprintf("%x", hash)
}
