package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClockIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, NewSystemClock().Now().Location())
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	clk := NewFakeClock(start)

	assert.True(t, clk.Now().Equal(start))
	assert.Equal(t, time.UTC, clk.Now().Location())

	next := clk.Advance(30 * 24 * time.Hour)
	assert.True(t, next.Equal(start.AddDate(0, 0, 30)))

	clk.Set(start.Add(-time.Hour))
	assert.True(t, clk.Now().Before(start))
}
