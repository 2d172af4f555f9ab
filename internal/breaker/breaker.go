// Package breaker wraps sony/gobreaker for remote calls whose client-side
// failures must not open the circuit.
package breaker

import (
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
)

// Breaker guards calls to one remote dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// passthrough carries an error out of the breaker as a successful result.
type passthrough struct {
	err error
}

// New returns a breaker that opens after more than five consecutive
// failures, or a 60% failure ratio over at least ten requests.
func New(name string, logger *log.Logger) *Breaker {
	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && ratio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})}
}

// Do runs fn. Errors for which counts returns false are handed back to
// the caller without being recorded as failures.
func (b *Breaker) Do(fn func() error, counts func(error) bool) error {
	res, err := b.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if !counts(err) {
				return passthrough{err: err}, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if p, ok := res.(passthrough); ok {
		return p.err
	}
	return nil
}

// IsOpen reports whether err was produced by an open or saturated breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
