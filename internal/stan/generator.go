// Package stan issues System Trace Audit Numbers: six-digit, unique within
// a day, reset at the first call of each new day.
package stan

import (
	"fmt"
	"sync"
	"time"
)

// MaxValue is the largest STAN; the counter wraps from here back to 1.
const MaxValue = 999999

const dateLayout = "20060102"

// Generator is safe for concurrent use. The date check, reset and
// increment happen under one lock so a rollover can never race an
// increment into a duplicate.
type Generator struct {
	mu       sync.Mutex
	counter  int
	date     string
	now      func() time.Time
	location *time.Location
	onReset  func(date string)
}

type Option func(*Generator)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithLocation sets the time zone whose calendar day drives the reset.
func WithLocation(loc *time.Location) Option {
	return func(g *Generator) {
		g.location = loc
	}
}

// WithStart seeds the counter for the given day (YYYYMMDD), e.g. from the
// highest STAN already persisted today.
func WithStart(counter int, date string) Option {
	return func(g *Generator) {
		if counter >= 0 && counter <= MaxValue {
			g.counter = counter
			g.date = date
		}
	}
}

// WithResetHook is called, under the generator lock, on every daily reset.
func WithResetHook(fn func(date string)) Option {
	return func(g *Generator) {
		g.onReset = fn
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:      time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns the next STAN as a zero-padded 6-digit string.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.now().In(g.location).Format(dateLayout)
	if today != g.date {
		g.counter = 0
		g.date = today
		if g.onReset != nil {
			g.onReset(today)
		}
	}

	g.counter++
	if g.counter > MaxValue {
		g.counter = 1
	}
	return fmt.Sprintf("%06d", g.counter)
}

// Current returns the last issued value and the day it belongs to.
func (g *Generator) Current() (int, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter, g.date
}
