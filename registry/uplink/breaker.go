package uplink

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff"
)

const maxCoolDown = time.Hour

// breaker trips after maxFails consecutive failures inside the rolling
// window and stays open for a cool-down period. Repeated trips without an
// intervening success lengthen the cool-down exponentially, so a dead
// upstream is probed ever less often.
type breaker struct {
	mu sync.Mutex

	name     string
	maxFails int
	window   time.Duration
	clock    clock.Clock

	failures  int
	firstFail time.Time
	openUntil time.Time
	coolDown  *backoff.ExponentialBackOff
}

func newBreaker(name string, maxFails int, window time.Duration, clk clock.Clock) *breaker {
	return &breaker{
		name:     name,
		maxFails: maxFails,
		window:   window,
		clock:    clk,
	}
}

// allow reports whether a request may be attempted right now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock.Now().After(b.openUntil) || b.clock.Now().Equal(b.openUntil)
}

// success closes the breaker and resets the cool-down escalation.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
	b.coolDown = nil
}

// fail records a failed request, tripping the breaker when the threshold
// is crossed within the window.
func (b *breaker) fail() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if b.failures == 0 || now.Sub(b.firstFail) > b.window {
		b.failures = 0
		b.firstFail = now
	}
	b.failures++
	if b.failures < b.maxFails {
		return
	}

	if b.coolDown == nil {
		b.coolDown = backoff.NewExponentialBackOff()
		b.coolDown.InitialInterval = b.window
		b.coolDown.MaxInterval = maxCoolDown
		b.coolDown.MaxElapsedTime = 0
		b.coolDown.RandomizationFactor = 0
		b.coolDown.Reset()
	}
	b.openUntil = now.Add(b.coolDown.NextBackOff())
	b.failures = 0
	breakerTrips.WithValues(b.name).Inc(1)
}
