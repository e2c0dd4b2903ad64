package config

import "time"

// SeatCacheConfig controls the short-lived Redis cache in front of the
// public seat map.  Seat maps are the hottest read during an on-sale, so
// even a one second TTL collapses most of the load; writes never go
// through the cache.
type SeatCacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadSeatCacheConfig reads SEAT_CACHE_* variables.
func LoadSeatCacheConfig() SeatCacheConfig {
	c := SeatCacheConfig{
		Enabled:      envBool("SEAT_CACHE_ENABLED", true),
		TTL:          envDur("SEAT_CACHE_TTL", time.Second),
		Prefix:       envStr("SEAT_CACHE_PREFIX", "seatmap"),
		MaxBodyBytes: envInt("SEAT_CACHE_MAX_BODY_BYTES", 1<<20),
	}
	if c.TTL <= 0 {
		c.TTL = time.Second
	}
	return c
}
