// Package notify wraps a Notifier with a token-spaced dispatch policy so the
// downstream transport receives at most one notice per pacing interval.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shadowgram/pkg/shadowgram"
)

// DefaultInterval is the pacing courtesy applied between outbound notices.
const DefaultInterval = 50 * time.Millisecond

// Option mutates pacer configuration.
type Option func(*Pacer)

// WithInterval sets the spacing between consecutive deliveries.
func WithInterval(interval time.Duration) Option {
	return func(pacer *Pacer) {
		if interval > 0 {
			pacer.interval = interval
		}
	}
}

// Pacer serializes notice delivery with a fixed spacing interval.
//
// Each call reserves the next dispatch slot under a mutex and then waits for
// its slot without holding the lock, so callers queue fairly and context
// cancellation releases a waiter without disturbing later slots.
type Pacer struct {
	notifier shadowgram.Notifier
	interval time.Duration
	clock    func() time.Time

	mu   sync.Mutex
	next time.Time
}

// New creates a paced notifier wrapping the supplied delegate.
func New(notifier shadowgram.Notifier, options ...Option) (*Pacer, error) {
	if notifier == nil {
		return nil, fmt.Errorf("new pacer: nil notifier")
	}

	pacer := &Pacer{
		notifier: notifier,
		interval: DefaultInterval,
		clock:    time.Now,
	}
	for _, option := range options {
		option(pacer)
	}

	return pacer, nil
}

// Deliver waits for this notice's dispatch slot and forwards it.
func (p *Pacer) Deliver(ctx context.Context, notice shadowgram.OutboundNotice) error {
	slot := p.reserveSlot()

	if wait := slot.Sub(p.clock()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("paced deliver: %w", ctx.Err())
		}
	}

	if err := p.notifier.Deliver(ctx, notice); err != nil {
		return fmt.Errorf("paced deliver: %w", err)
	}

	return nil
}

// reserveSlot claims the next free dispatch time and advances the schedule.
func (p *Pacer) reserveSlot() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)

	return slot
}

var _ shadowgram.Notifier = (*Pacer)(nil)
