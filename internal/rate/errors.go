package rate

import "errors"

var (
	// ErrRateLimited means the caller's budget for the current window is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any Redis failure. Callers fail closed on it.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
