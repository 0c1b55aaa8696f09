package uplink

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAfterMaxFails(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker("npmjs", 2, time.Minute, clk)

	assert.True(t, b.allow())
	b.fail()
	assert.True(t, b.allow(), "one failure must not trip the breaker")
	b.fail()
	assert.False(t, b.allow(), "threshold reached, breaker must be open")
}

func TestBreakerCoolDownElapses(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker("npmjs", 2, time.Minute, clk)

	b.fail()
	b.fail()
	assert.False(t, b.allow())

	clk.Add(30 * time.Second)
	assert.False(t, b.allow())

	clk.Add(31 * time.Second)
	assert.True(t, b.allow())
}

func TestBreakerSuccessResets(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker("npmjs", 2, time.Minute, clk)

	b.fail()
	b.success()
	b.fail()
	assert.True(t, b.allow(), "success must reset the failure count")

	b.fail()
	assert.False(t, b.allow())
	b.success()
	assert.True(t, b.allow(), "success must close an open breaker")
}

func TestBreakerWindowExpiresFailures(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker("npmjs", 2, time.Minute, clk)

	b.fail()
	clk.Add(2 * time.Minute)
	b.fail()
	assert.True(t, b.allow(), "failures outside the window must not accumulate")
}

func TestBreakerCoolDownEscalates(t *testing.T) {
	clk := clock.NewMock()
	b := newBreaker("npmjs", 1, time.Minute, clk)

	b.fail()
	assert.False(t, b.allow())
	clk.Add(time.Minute)
	assert.True(t, b.allow())

	// A second trip without an intervening success backs off longer.
	b.fail()
	clk.Add(time.Minute)
	assert.False(t, b.allow())
	clk.Add(time.Minute)
	assert.True(t, b.allow())
}
