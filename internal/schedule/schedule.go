// Package schedule paces repeated trigger cycles.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Pacer blocks between two cycles.
type Pacer interface {
	// Wait returns nil when the next cycle is due, or ctx.Err() when ctx is
	// cancelled first.
	Wait(ctx context.Context) error
}

// Interval waits a fixed delay between cycles.
type Interval time.Duration

// Wait sleeps for the interval.
func (d Interval) Wait(ctx context.Context) error {
	t := time.NewTimer(time.Duration(d))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d Interval) String() string {
	return "every " + time.Duration(d).String()
}

// Cron waits for the next activation of a standard 5-field cron schedule.
type Cron struct {
	expr  string
	sched cron.Schedule
	now   func() time.Time
}

// NewCron parses expr. Descriptors such as "@every 30s" and "@hourly" are
// accepted.
func NewCron(expr string) (*Cron, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	return &Cron{expr: expr, sched: sched, now: time.Now}, nil
}

// Next returns the first activation after t.
func (c *Cron) Next(t time.Time) time.Time {
	return c.sched.Next(t)
}

// Wait sleeps until the next activation.
func (c *Cron) Wait(ctx context.Context) error {
	now := c.now()
	return Interval(c.sched.Next(now).Sub(now)).Wait(ctx)
}

func (c *Cron) String() string {
	return "cron " + c.expr
}
