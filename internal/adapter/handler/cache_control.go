package handler

import (
	"fmt"
	"time"

	"marketdata/internal/domain/model"
)

// AssetListMaxAge is how long clients may cache the asset lists.
const AssetListMaxAge = 300 * time.Second

// CacheControlFor derives the Cache-Control header of a priced value from its
// remaining validity, truncated to whole seconds.
func CacheControlFor(e model.Expiring) string {
	return maxAge(e.TimeToLive())
}

func maxAge(ttl time.Duration) string {
	if ttl < 0 {
		ttl = 0
	}
	return fmt.Sprintf("public, max-age=%d", int64(ttl/time.Second))
}
