package queue

import (
	"context"

	"github.com/robfig/cron/v3"
)

// CronSource re-enqueues a templated input on a cron schedule. It is an
// enrichment beyond plain pull-based Enqueue calls, grounded on the same
// "drive enqueue from a schedule" idea as a cron-triggered job runner.
type CronSource struct {
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewCronSource schedules makeInput() to be enqueued onto q every time spec
// fires (standard five-field cron syntax). The returned CronSource is
// inert until Start is called.
func NewCronSource(q *Queue, spec string, makeInput func() any, opts EnqueueOptions) (*CronSource, error) {
	c := cron.New()
	id, err := c.AddFunc(spec, func() {
		q.Enqueue(makeInput(), opts)
	})
	if err != nil {
		return nil, err
	}
	return &CronSource{cron: c, entryID: id}, nil
}

// Start begins firing the cron schedule in the background.
func (c *CronSource) Start() {
	c.cron.Start()
}

// Stop halts the schedule and returns a context that is done once any
// in-flight enqueue triggered by it has returned.
func (c *CronSource) Stop() context.Context {
	return c.cron.Stop()
}
