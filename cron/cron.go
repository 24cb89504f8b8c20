/*
Package cron runs background tasks at a fixed interval.

A Runner is owned by the process supervisor. It is started with a context
and stops once that context is cancelled, so no task outlives the process
that scheduled it.
*/
package cron

import (
	"context"
	"sync"
	"time"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/tendermint/tendermint/libs/log"
)

// DefaultInterval is used when a runner is created with a non positive
// interval.
const DefaultInterval = time.Minute

// Runner calls all registered tickers every interval.
type Runner struct {
	interval time.Duration
	logger   log.Logger

	mu    sync.Mutex
	tasks []task
}

type task struct {
	name   string
	ticker torasuri.Ticker
}

// NewRunner returns a runner without any task registered.
func NewRunner(interval time.Duration, logger log.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Runner{
		interval: interval,
		logger:   logger.With("module", "cron"),
	}
}

// Add registers a ticker under given name. Tasks are called in the order
// they were added.
func (r *Runner) Add(name string, t torasuri.Ticker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task{name: name, ticker: t})
}

// Run blocks until given context is cancelled, calling all tasks every
// interval. The first run happens after one interval.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("cron started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cron stopped")
			return
		case <-ticker.C:
			r.TickAll(ctx)
		}
	}
}

// TickAll calls every registered task once. A failure or a panic of one
// task does not prevent the others from running. It returns the combined
// error of all failed tasks.
func (r *Runner) TickAll(ctx context.Context) error {
	r.mu.Lock()
	tasks := append([]task(nil), r.tasks...)
	r.mu.Unlock()

	var errs error
	for _, t := range tasks {
		if ctx.Err() != nil {
			return errors.Append(errs, errors.Wrap(errors.ErrTimeout, ctx.Err().Error()))
		}
		res, err := tick(ctx, t.ticker)
		if err != nil {
			r.logger.Error("task failed", "task", t.name, "err", err)
			errs = errors.Append(errs, errors.Wrapf(err, "task %s", t.name))
			continue
		}
		if res != nil && len(res.Tags) > 0 {
			r.logger.Debug("task done", "task", t.name, "changes", len(res.Tags))
		}
	}
	return errs
}

func tick(ctx context.Context, t torasuri.Ticker) (res *torasuri.TickResult, err error) {
	defer errors.Recover(&err)
	return t.Tick(ctx)
}
