// internal/cadence/cadence.go
package cadence

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window is a concrete scheduling window in whole days.
// Invariant: MinDays <= TargetDays <= MaxDays.
type Window struct {
	TargetDays int
	MinDays    int
	MaxDays    int
}

// DefaultWindow is the documented fallback for unrecognized labels. Matches
// the conservative "2-3 days" wait used between early follow-ups.
var DefaultWindow = Window{TargetDays: 3, MinDays: 2, MaxDays: 3}

// Resolver maps human-readable delay labels ("2-3 days", "1 week") to
// scheduling windows. The vocabulary is configuration: overrides passed at
// construction extend or replace the built-in table. Resolution is pure; the
// same label always yields the same window.
type Resolver struct {
	vocabulary map[string]Window
}

// rangePattern accepts "N days", "N-M days", "N weeks" and singular forms.
var rangePattern = regexp.MustCompile(`^(\d+)(?:\s*-\s*(\d+))?\s*(day|week)s?$`)

func NewResolver(overrides map[string]Window) *Resolver {
	vocab := map[string]Window{
		"1 day":    {1, 1, 1},
		"2 days":   {2, 2, 2},
		"2-3 days": {3, 2, 3},
		"3 days":   {3, 3, 3},
		"3-5 days": {4, 3, 5},
		"5 days":   {5, 5, 5},
		"7 days":   {7, 7, 7},
		"1 week":   {7, 7, 7},
		"2 weeks":  {14, 14, 14},
	}
	for label, w := range overrides {
		vocab[normalize(label)] = w
	}
	return &Resolver{vocabulary: vocab}
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Resolve returns the window for a label. Unrecognized labels fail closed to
// DefaultWindow with ok=false so callers can log the fallback; resolution
// never errors.
func (r *Resolver) Resolve(label string) (Window, bool) {
	key := normalize(label)
	if w, found := r.vocabulary[key]; found {
		return w, true
	}
	if m := rangePattern.FindStringSubmatch(key); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi := lo
		if m[2] != "" {
			hi, _ = strconv.Atoi(m[2])
		}
		if m[3] == "week" {
			lo *= 7
			hi *= 7
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		if lo > 0 {
			return Window{TargetDays: (lo + hi + 1) / 2, MinDays: lo, MaxDays: hi}, true
		}
	}
	return DefaultWindow, false
}

// ScheduleAt computes a concrete due time from an anchor and a window,
// applying jitter uniformly within [MinDays, MaxDays]. Jitter lives here, on
// the caller side of Resolve, so resolution itself stays deterministic.
func ScheduleAt(anchor time.Time, w Window, rng *rand.Rand) time.Time {
	min := time.Duration(w.MinDays) * 24 * time.Hour
	max := time.Duration(w.MaxDays) * 24 * time.Hour
	offset := min
	if span := max - min; span > 0 && rng != nil {
		offset += time.Duration(rng.Int63n(int64(span)))
	}
	return anchor.Add(offset)
}
