// Package clock tracks elapsed meeting time at one-second precision and
// drives the end-of-meeting sequence.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const graceSeconds = 60

// Clock counts up from zero toward timeLimit−60s. On reaching the target it
// flags urgency and keeps counting with termination scheduled 60 seconds
// later. A late joiner resynchronizes once via SyncTo; no drift correction
// happens afterward.
type Clock struct {
	OnTick    func(elapsed int)
	OnUrgent  func()
	OnExpired func()

	limit   int // total meeting seconds
	elapsed int
	urgent  bool
	grace   int
	stopped bool
}

func New(limitSeconds int) *Clock {
	return &Clock{limit: limitSeconds}
}

func (c *Clock) Elapsed() int { return c.elapsed }
func (c *Clock) Urgent() bool { return c.urgent }

func (c *Clock) target() int { return c.limit - graceSeconds }

// Run ticks once per second until ctx ends. Ticks re-enter the agent loop
// through post so the clock shares the single-writer discipline.
func (c *Clock) Run(ctx context.Context, post func(func())) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				post(c.Tick)
			}
		}
	}()
}

// Tick advances the clock by one second.
func (c *Clock) Tick() {
	if c.stopped {
		return
	}
	c.elapsed++
	if c.OnTick != nil {
		c.OnTick(c.elapsed)
	}

	if !c.urgent {
		if c.elapsed >= c.target() {
			c.urgent = true
			c.grace = graceSeconds
			log.Info().Str("module", "clock").Int("elapsed", c.elapsed).Msg("meeting ending soon")
			if c.OnUrgent != nil {
				c.OnUrgent()
			}
		}
		return
	}

	c.grace--
	if c.grace <= 0 {
		c.stopped = true
		log.Info().Str("module", "clock").Int("elapsed", c.elapsed).Msg("meeting time limit reached")
		if c.OnExpired != nil {
			c.OnExpired()
		}
	}
}

// SyncTo resets the clock to the moderator's elapsed value. This is the
// only synchronization primitive.
func (c *Clock) SyncTo(seconds int) {
	c.elapsed = seconds
	if !c.urgent && c.elapsed >= c.target() {
		c.urgent = true
		c.grace = graceSeconds
		if c.OnUrgent != nil {
			c.OnUrgent()
		}
	}
}

// Display renders hh:mm:ss for the timer surface.
func (c *Clock) Display() string {
	h := c.elapsed / 3600
	m := (c.elapsed % 3600) / 60
	s := c.elapsed % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
