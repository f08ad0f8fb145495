package breaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Settings for a consecutive-failures breaker.
type Settings struct {
	Name     string
	Fails    int           // consecutive failures before opening, default 5
	OpenFor  time.Duration // time spent open before a half-open probe, default 10s
	Interval time.Duration // closed-state counter reset, 0 = never
}

// New builds a gobreaker that trips after Fails consecutive failures and
// logs state changes.
func New(s Settings, log zerolog.Logger) *gobreaker.CircuitBreaker {
	if s.Fails < 1 {
		s.Fails = 5
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 10 * time.Second
	}
	fails := uint32(s.Fails)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     s.Name,
		Interval: s.Interval,
		Timeout:  s.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker: state change")
		},
	})
}
