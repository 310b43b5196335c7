// Package dispatch runs remote writes off the synchronous request path.
// A bounded worker pool consumes named jobs; every outcome is published
// on a results channel so failures stay visible even though no caller
// waits on them.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result records the outcome of one job.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Pool is a fixed-size worker pool with a bounded queue. Submit blocks
// while the queue is full; back-pressure beats unbounded growth.
type Pool struct {
	jobs    chan Job
	results chan Result
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, queueSize int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	p := &Pool{
		jobs:    make(chan Job, queueSize),
		results: make(chan Result, queueSize),
		log:     log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		start := time.Now()
		err := job.Run(context.Background())
		res := Result{Name: job.Name, Err: err, Duration: time.Since(start)}
		if err != nil {
			p.log.Error().Err(err).Str("job", job.Name).Dur("duration", res.Duration).Msg("dispatch job failed")
		} else {
			p.log.Debug().Str("job", job.Name).Dur("duration", res.Duration).Msg("dispatch job done")
		}
		// Outcomes are already logged; when nobody drains the results
		// channel the oldest entry gives way instead of stalling workers.
		select {
		case p.results <- res:
		default:
			select {
			case <-p.results:
			default:
			}
			select {
			case p.results <- res:
			default:
			}
		}
	}
}

// Submit enqueues a job, blocking while the queue is full. It returns
// false once the pool is closed.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.jobs <- job
	return true
}

// Results exposes job outcomes for observation; the pool keeps running
// whether or not anyone reads it.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops intake, waits for in-flight jobs, and closes the results
// channel.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
}

// LogResults drains the results channel until it closes. Run it on its
// own goroutine from process bootstrap.
func (p *Pool) LogResults() {
	for res := range p.results {
		if res.Err != nil {
			p.log.Warn().Err(res.Err).Str("job", res.Name).Msg("background dispatch failed")
		}
	}
}
