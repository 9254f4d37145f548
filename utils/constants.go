// File: utils/constants.go
package utils

import "time"

// StatusCachePrefix is the prefix used for Redis entity-status cache keys.
const StatusCachePrefix = "status:"

// StatusCacheTTL is the time-to-live for entity-status cache entries.
const StatusCacheTTL = 5 * time.Minute
