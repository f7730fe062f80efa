package runner

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
)

// Executor runs a dispatched job.
type Executor interface {
	Execute(ctx context.Context, msg chat.JobMessage) error
}

// Inline executes jobs in the submitting process, at most concurrency at a
// time. It is the single-process alternative to a work queue: jobs are lost
// if the process stops.
type Inline struct {
	exec Executor
	sem  chan struct{}
	wg   sync.WaitGroup
	log  zerolog.Logger
}

func NewInline(exec Executor, concurrency int, log zerolog.Logger) *Inline {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Inline{
		exec: exec,
		sem:  make(chan struct{}, concurrency),
		log:  log.With().Str("component", "inline-dispatcher").Logger(),
	}
}

func (d *Inline) Dispatch(ctx context.Context, msg chat.JobMessage) error {
	// the turn outlives the request that submitted it
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		if err := d.exec.Execute(ctx, msg); err != nil {
			d.log.Error().Err(err).Str("job_id", msg.JobID).Msg("job execution failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (d *Inline) Wait() { d.wg.Wait() }
