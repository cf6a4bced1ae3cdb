package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentbook/internal/metrics"
	"github.com/rs/zerolog"
)

// Dispatcher runs post-commit side effects in the background with a bounded
// number of concurrent workers. Failures are logged and counted, never returned.
type Dispatcher struct {
	sem     chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *zerolog.Logger
}

func NewDispatcher(workers int, timeout time.Duration, logger *zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 8
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sem:     make(chan struct{}, workers),
		timeout: timeout,
		logger:  logger,
	}
}

// Go schedules fn. It never blocks the caller.
func (d *Dispatcher) Go(kind string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.run(ctx, fn); err != nil {
			metrics.IncSideEffectFailure(kind)
			d.logger.Error().Err(err).Str("kind", kind).Msg("Side effect failed")
		}
	}()
}

func (d *Dispatcher) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled side effect has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
