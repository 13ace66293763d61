// Package ratelimit throttles requests per key with token buckets.
//
// taskd keys buckets by the authorized caller, so one noisy client cannot
// starve the others:
//
//	limiter := ratelimit.NewMemoryLimiter(100, time.Minute) // 100 calls per minute each
//	if !limiter.Allow(caller) {
//	    return errors.Busy("rate limit exceeded")
//	}
//
// # Algorithm
//
// Each key owns a bucket holding up to capacity tokens:
//   - A new bucket starts full
//   - Tokens refill continuously at capacity per window
//   - Each Allow consumes one token, or fails when the bucket is empty
//   - Buckets idle for a full window are forgotten
package ratelimit
