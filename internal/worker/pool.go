// Package worker runs blocking work (browser sessions, image encoding) on a
// fixed set of goroutines fed by a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool closed")

// Config controls Pool sizing.
type Config struct {
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// Job is one unit of blocking work. ctx ends when the pool is torn down.
type Job func(ctx context.Context)

// Pool executes submitted jobs on Config.Workers goroutines.
type Pool struct {
	queue  *Queue[Job]
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a pool. Workers defaults to 4 and QueueSize to 4x Workers.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  NewQueue[Job](cfg.QueueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

// Submit enqueues job. It blocks while the queue is full and fails with
// ErrPoolClosed after Close.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// Pending reports queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return p.queue.Len()
}

// Close stops intake and waits for queued and running jobs. When ctx ends
// first, running jobs see their context canceled and Close returns ctx.Err.
func (p *Pool) Close(ctx context.Context) error {
	p.queue.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		job, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			return
		}
		p.execute(id, job)
	}
}

func (p *Pool) execute(id int, job Job) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked",
				zap.Int("worker", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	job(p.ctx)
}

// Do runs fn on the pool and waits for its result. If ctx ends first Do
// returns ctx's error while fn keeps running; its result is discarded.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	var zero T
	out := make(chan outcome, 1)
	err := p.Submit(ctx, func(jobCtx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				out <- outcome{err: fmt.Errorf("job panicked: %v", r)}
				panic(r)
			}
		}()
		v, err := fn(jobCtx)
		out <- outcome{val: v, err: err}
	})
	if err != nil {
		return zero, err
	}
	select {
	case o := <-out:
		return o.val, o.err
	case <-ctx.Done():
		return zero, fmt.Errorf("await job: %w", ctx.Err())
	}
}
