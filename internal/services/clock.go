package services

import (
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/appcd/internal/dispatcher"
)

// Clock is a subscription service that publishes a tick on a cron
// schedule. It generalizes go-claw's internal/cron scheduler — there,
// a cron.Cron fired due schedules into a persistence store; here the
// same library fires ticks straight onto a subscriber's response
// stream, with no store involved (persistence is out of scope here).
type Clock struct {
	cron *cronlib.Cron

	mu    sync.Mutex
	bySid map[string]cronlib.EntryID
}

// NewClock builds a Clock and starts its internal cron runner. Call
// Stop on daemon shutdown.
func NewClock() *Clock {
	c := &Clock{
		cron:  cronlib.New(),
		bySid: map[string]cronlib.EntryID{},
	}
	c.cron.Start()
	return c
}

// Stop halts the cron runner, waiting for any in-flight tick to finish.
func (c *Clock) Stop() {
	<-c.cron.Stop().Done()
}

// Service returns the dispatcher.Service for registration, defaulting
// to a tick every second. Pass a standard 5-field cron expression
// (e.g. "*/5 * * * *") to register at a coarser schedule instead.
func (c *Clock) Service(spec string) *dispatcher.Service {
	if spec == "" {
		spec = "@every 1s"
	}
	return &dispatcher.Service{
		OnSubscribe: func(ctx *dispatcher.Context, pub *dispatcher.Publisher) error {
			entryID, err := c.cron.AddFunc(spec, func() {
				pub.Publish(map[string]any{"t": time.Now().Unix()})
			})
			if err != nil {
				return dispatcher.ErrServerError(err)
			}
			c.mu.Lock()
			c.bySid[pub.SID()] = entryID
			c.mu.Unlock()
			return nil
		},
		OnUnsubscribe: func(ctx *dispatcher.Context) error {
			c.mu.Lock()
			entryID, ok := c.bySid[ctx.Sid]
			delete(c.bySid, ctx.Sid)
			c.mu.Unlock()
			if ok {
				c.cron.Remove(entryID)
			}
			return nil
		},
	}
}
