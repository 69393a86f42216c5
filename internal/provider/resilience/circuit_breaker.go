// Package resilience provides an HTTP client wrapper for external provider
// calls: a request timeout plus a circuit breaker that keeps request and
// failure counts for the run summary.
package resilience

import (
	"github.com/sony/gobreaker/v2"
)

// neverTrip keeps the breaker closed regardless of failures, so every request
// reaches the server and each failure is reported once by the caller.
func neverTrip(gobreaker.Counts) bool {
	return false
}

// newCountingBreaker creates a breaker that never opens. With a zero Interval
// the closed-state counts are never cleared and cover the client's lifetime.
func newCountingBreaker[T any](name string) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		ReadyToTrip: neverTrip,
	})
}
