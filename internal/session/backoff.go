package session

import "time"

// Reconnect policies.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

const (
	defaultReconnectDelay = 10 * time.Second
	defaultReconnectMax   = 5 * time.Minute
)

// Backoff decides how long to wait before redialing.
type Backoff struct {
	Policy  string        `yaml:"policy"`
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Delay returns the wait before attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = defaultReconnectDelay
	}
	if b.Policy != PolicyExponential || attempt <= 1 {
		return initial
	}

	max := b.Max
	if max <= 0 {
		max = defaultReconnectMax
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
