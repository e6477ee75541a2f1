package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClockOverride(t *testing.T) {
	pinned := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), pinned)

	assert.Equal(t, pinned, SystemClock{}.Now(ctx))
	assert.WithinDuration(t, time.Now().UTC(), SystemClock{}.Now(context.Background()), time.Minute)
}

func TestFixedAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	c := NewFixed(start)
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now(context.Background()))
}
