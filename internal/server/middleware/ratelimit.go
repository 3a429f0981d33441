package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm. The
// public activation endpoints sit behind this so a single client cannot
// brute-force license keys.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByLicenseKey limits requests per license key carried in the
// X-License-Key header, falling back to the client IP when absent. Keying
// by license lets one noisy licensee throttle itself without starving other
// clients behind the same NAT.
func RateLimitByLicenseKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if key := r.Header.Get("X-License-Key"); key != "" {
				return key, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
