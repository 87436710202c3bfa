package processor

import (
	"context"
	"sync"
)

// ImageJob is one image of a run and the folder its results go to.
type ImageJob struct {
	Path   string
	Folder string
}

// imageHandler processes one job with the pipelines owned by the worker.
type imageHandler func(ctx context.Context, job ImageJob, runs []*pipelineRun)

// ImagePool runs image jobs on one goroutine per compiled pipeline set. A
// worker keeps its pipelines for the whole run, so commands holding native
// resources are never shared between goroutines.
type ImagePool struct {
	jobs   chan ImageJob
	wg     sync.WaitGroup
	closed sync.Once
}

// NewImagePool starts one worker per entry of runners. Jobs taken after ctx
// is cancelled are dropped without calling handle.
func NewImagePool(ctx context.Context, runners [][]*pipelineRun, handle imageHandler) *ImagePool {
	pool := &ImagePool{jobs: make(chan ImageJob, len(runners))}
	for _, runs := range runners {
		pool.wg.Add(1)
		go func(runs []*pipelineRun) {
			defer pool.wg.Done()
			for job := range pool.jobs {
				if ctx.Err() != nil {
					continue
				}
				handle(ctx, job, runs)
			}
		}(runs)
	}
	return pool
}

// Submit queues a job. It blocks while all workers are busy and the queue is
// full, and gives up with the context error once ctx is done.
func (p *ImagePool) Submit(ctx context.Context, job ImageJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the queued ones to finish.
func (p *ImagePool) Close() {
	p.closed.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
