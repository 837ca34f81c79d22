// Package throttle implements the politeness delays taken before every fetch.
package throttle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"fab/enumerator/internal/config"
)

type Pace int

const (
	// Short separates steps of the same job: pages of one cursor, category
	// pages below the top level.
	Short Pace = iota
	// Long separates unrelated work: top-level categories, jobs of
	// different categories.
	Long
)

func (p Pace) String() string {
	if p == Long {
		return "long"
	}
	return "short"
}

// Pacer sleeps a random duration drawn from a fixed range before a fetch.
// A Pacer is safe for concurrent use.
type Pacer struct {
	short config.DelayRange
	long  config.DelayRange

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPacer(short, long config.DelayRange) *Pacer {
	return &Pacer{
		short: short,
		long:  long,
		rnd:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// NoDelay returns a pacer that never sleeps.
func NoDelay() *Pacer {
	return NewPacer(config.DelayRange{}, config.DelayRange{})
}

// Delay draws the next delay for the given pace without sleeping.
func (p *Pacer) Delay(pace Pace) time.Duration {
	r := p.short
	if pace == Long {
		r = p.long
	}
	if r.Max <= r.Min {
		return r.Min
	}

	p.mu.Lock()
	jitter := p.rnd.Int64N(int64(r.Max-r.Min) + 1)
	p.mu.Unlock()

	return r.Min + time.Duration(jitter)
}

// Wait sleeps for a random delay, returning early with the context error if
// ctx is done first.
func (p *Pacer) Wait(ctx context.Context, pace Pace) error {
	d := p.Delay(pace)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
