package cadence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveKnownLabels(t *testing.T) {
	r := NewResolver(nil)

	w, ok := r.Resolve("2-3 days")
	assert.True(t, ok)
	assert.Equal(t, 2, w.MinDays)
	assert.Equal(t, 3, w.MaxDays)

	w, ok = r.Resolve("1 day")
	assert.True(t, ok)
	assert.Equal(t, Window{1, 1, 1}, w)

	w, ok = r.Resolve("1 week")
	assert.True(t, ok)
	assert.Equal(t, Window{7, 7, 7}, w)

	w, ok = r.Resolve("2 weeks")
	assert.True(t, ok)
	assert.Equal(t, 14, w.TargetDays)
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	r := NewResolver(nil)

	a, okA := r.Resolve("2-3 Days")
	b, okB := r.Resolve("  2-3 DAYS ")
	assert.True(t, okA)
	assert.True(t, okB)
	assert.Equal(t, a, b)
}

func TestResolveGenericForms(t *testing.T) {
	r := NewResolver(nil)

	w, ok := r.Resolve("4 days")
	assert.True(t, ok)
	assert.Equal(t, Window{4, 4, 4}, w)

	w, ok = r.Resolve("3-4 weeks")
	assert.True(t, ok)
	assert.Equal(t, 21, w.MinDays)
	assert.Equal(t, 28, w.MaxDays)
}

func TestResolveUnknownFallsClosedToDefault(t *testing.T) {
	r := NewResolver(nil)

	w, ok := r.Resolve("unknown-label")
	assert.False(t, ok)
	assert.Equal(t, DefaultWindow, w)

	// "0 days" is nonsense and must also hit the fallback.
	w, ok = r.Resolve("0 days")
	assert.False(t, ok)
	assert.Equal(t, DefaultWindow, w)
}

func TestResolveIsPure(t *testing.T) {
	r := NewResolver(nil)
	for i := 0; i < 10; i++ {
		w, ok := r.Resolve("3-5 days")
		assert.True(t, ok)
		assert.Equal(t, Window{4, 3, 5}, w)
	}
}

func TestWindowInvariant(t *testing.T) {
	r := NewResolver(nil)
	for _, label := range []string{"1 day", "2 days", "2-3 days", "3-5 days", "1 week", "2 weeks", "garbage"} {
		w, _ := r.Resolve(label)
		assert.LessOrEqual(t, w.MinDays, w.TargetDays, label)
		assert.LessOrEqual(t, w.TargetDays, w.MaxDays, label)
	}
}

func TestResolverOverrides(t *testing.T) {
	r := NewResolver(map[string]Window{
		"Next Quarter": {90, 85, 95},
	})
	w, ok := r.Resolve("next quarter")
	assert.True(t, ok)
	assert.Equal(t, 90, w.TargetDays)
}

func TestScheduleAtStaysWithinWindow(t *testing.T) {
	anchor := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w := Window{TargetDays: 3, MinDays: 2, MaxDays: 3}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		due := ScheduleAt(anchor, w, rng)
		assert.False(t, due.Before(anchor.Add(2*24*time.Hour)))
		assert.False(t, due.After(anchor.Add(3*24*time.Hour)))
	}
}

func TestScheduleAtExactWindow(t *testing.T) {
	anchor := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	due := ScheduleAt(anchor, Window{1, 1, 1}, nil)
	assert.Equal(t, anchor.Add(24*time.Hour), due)
}
