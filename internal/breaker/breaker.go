// Package breaker builds the circuit breakers that wrap calls to external
// AI services.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ConsecutiveFailures is how many failed calls in a row the breaker tolerates.
const ConsecutiveFailures = 5

// New returns a breaker that opens on the failure after ConsecutiveFailures
// and probes again after openFor. Caller cancellation is not counted as a failure.
func New(name string, openFor time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// IsOpen reports whether err came from the breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
