// Package clock provides the time source used by the paper engine. Wall
// runs in the market timezone; Fake is driven by tests.
package clock

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // exchange zones must resolve on hosts without a zoneinfo database
)

const DayLayout = "2006-01-02"

type Clock interface {
	Now() time.Time
	PastCutoff() bool
}

// Day returns the calendar day key of t in t's location.
func Day(t time.Time) string {
	return t.Format(DayLayout)
}

// Cutoff is a wall-clock time of day in a location.
type Cutoff struct {
	Hour   int
	Minute int
	Loc    *time.Location
}

// ParseCutoff parses "HH:MM" in the named IANA zone.
func ParseCutoff(hhmm, zone string) (Cutoff, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Cutoff{}, fmt.Errorf("load location %q: %w", zone, err)
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return Cutoff{}, fmt.Errorf("parse cutoff %q: %w", hhmm, err)
	}
	return Cutoff{Hour: t.Hour(), Minute: t.Minute(), Loc: loc}, nil
}

func (c Cutoff) location() *time.Location {
	if c.Loc == nil {
		return time.UTC
	}
	return c.Loc
}

// Passed reports whether t is at or after the cutoff on t's calendar day.
func (c Cutoff) Passed(t time.Time) bool {
	t = t.In(c.location())
	at := time.Date(t.Year(), t.Month(), t.Day(), c.Hour, c.Minute, 0, 0, c.location())
	return !t.Before(at)
}

func (c Cutoff) String() string {
	return fmt.Sprintf("%02d:%02d %s", c.Hour, c.Minute, c.location())
}

type Wall struct {
	Cutoff Cutoff
}

func NewWall(c Cutoff) Wall { return Wall{Cutoff: c} }

func (w Wall) Now() time.Time { return time.Now().In(w.Cutoff.location()) }

func (w Wall) PastCutoff() bool { return w.Cutoff.Passed(w.Now()) }

// Fake is a manually advanced clock.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	cutoff Cutoff
}

func NewFake(now time.Time, c Cutoff) *Fake {
	return &Fake{now: now, cutoff: c}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) PastCutoff() bool {
	return f.cutoff.Passed(f.Now())
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
