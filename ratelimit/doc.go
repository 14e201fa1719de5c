// Package ratelimit paces chat sends with token buckets.
//
// Chat platforms throttle bursts to one conversation. The delivery router
// acquires a token for the destination address before every send, and
// when the platform answers with a retry-after anyway the router calls
// Penalize so other sends to that address wait as well.
//
//	limiter := ratelimit.NewMemoryLimiter(ratelimit.WithDefaultCapacity(20, time.Minute))
//	if err := limiter.Acquire(ctx, "chat.-1001"); err != nil {
//		return err
//	}
package ratelimit
