// Package flow implements the per-writer FlowController filter chain:
// Quantity, Size and Throttle filters composed in registration order.
package flow

import (
	"time"

	"github.com/rtpsmesh/rtpsd/rtps/guid"
	"github.com/rtpsmesh/rtpsd/rtps/seqnum"
)

// Item is one queued (writer, change, target reader) unit of work awaiting
// a flow-controller tick before it is sent.
type Item struct {
	WriterGUID     guid.GUID
	ReaderGUID     guid.GUID
	SequenceNumber seqnum.SequenceNumber
	Bytes          int
}

// Filter admits a prefix of items on one controller tick, returning the
// admitted items and the remainder still queued.
type Filter interface {
	Admit(items []Item, now time.Time) (passed, rest []Item)
}

// QuantityFilter passes at most N items per invocation.
type QuantityFilter struct {
	N int
}

func (f *QuantityFilter) Admit(items []Item, now time.Time) ([]Item, []Item) {
	if f.N <= 0 || len(items) <= f.N {
		return items, nil
	}
	return items[:f.N], items[f.N:]
}

// SizeFilter passes items up to a cumulative byte budget per Period;
// the budget refills once Period has elapsed since the last refill.
type SizeFilter struct {
	Budget int
	Period time.Duration

	remaining   int
	windowStart time.Time
	initialized bool
}

func (f *SizeFilter) Admit(items []Item, now time.Time) ([]Item, []Item) {
	if !f.initialized || now.Sub(f.windowStart) >= f.Period {
		f.remaining = f.Budget
		f.windowStart = now
		f.initialized = true
	}

	var passed []Item
	for i, it := range items {
		if it.Bytes > f.remaining {
			return passed, items[i:]
		}
		f.remaining -= it.Bytes
		passed = append(passed, it)
	}
	return passed, nil
}

// ThrottleFilter lets items through freely; once any item passes, it
// suppresses the entire queue for Period — a hard stop, not a rate limit.
type ThrottleFilter struct {
	Period time.Duration

	suppressedUntil time.Time
}

func (f *ThrottleFilter) Admit(items []Item, now time.Time) ([]Item, []Item) {
	if now.Before(f.suppressedUntil) {
		return nil, items
	}
	if len(items) > 0 {
		f.suppressedUntil = now.Add(f.Period)
	}
	return items, nil
}

// Controller runs a writer's ordered filter chain on a queue of Items. A
// filter returning zero admitted items (the ThrottleFilter's hard stop,
// or any filter emptying the queue) suppresses every filter after it for
// that tick, since an empty slice simply passes through unchanged.
type Controller struct {
	filters []Filter
}

// New builds a Controller with filters applied in the given order.
func New(filters ...Filter) *Controller {
	return &Controller{filters: filters}
}

// Run walks the filter chain once and returns the items admitted this
// tick. Items not admitted remain the caller's responsibility to retry on
// the next tick.
func (c *Controller) Run(items []Item, now time.Time) []Item {
	passed := items
	for _, f := range c.filters {
		if len(passed) == 0 {
			break
		}
		passed, _ = f.Admit(passed, now)
	}
	return passed
}
