package domain

import "time"

// RateLimitBucket is the persisted token-bucket state for one key.
type RateLimitBucket struct {
	Tokens       float64   `json:"tokens"`
	LastRefillAt time.Time `json:"last_refill_at"`
}
