package clock

import (
	"context"
	"sync"
	"time"
)

type overrideKey struct{}

// WithTime pins the time observed by SystemClock for ctx. Replays of a
// settlement period use it so records carry the period's timestamps.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, overrideKey{}, t.UTC())
}

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(overrideKey{}).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}

// Fixed is a manually advanced clock.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC()}
}

func (f *Fixed) Now(context.Context) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}
