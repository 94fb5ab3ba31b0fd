package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ncloudioj/gcp-ingestion/internal/metrics"
)

// job pairs an input with the channel its outcome is reported on. A nil
// reply discards the outcome.
type job[In, Out any] struct {
	in    In
	reply chan<- jobResult[Out]
}

type jobResult[Out any] struct {
	value Out
	err   error
}

// workerPool runs fn on a fixed number of goroutines fed by a bounded queue.
// Workers keep consuming until Drain; once ctx is done every queued job is
// answered with the context error instead of being run.
type workerPool[In, Out any] struct {
	queue chan job[In, Out]
	fn    func(context.Context, In) (Out, error)
	busy  atomic.Int64
	wg    sync.WaitGroup

	// mu guards closed and the queue close against concurrent sends.
	mu     sync.RWMutex
	closed bool
}

func newWorkerPool[In, Out any](ctx context.Context, workers, depth int, fn func(context.Context, In) (Out, error)) *workerPool[In, Out] {
	p := &workerPool[In, Out]{
		queue: make(chan job[In, Out], depth),
		fn:    fn,
	}
	p.wg.Add(workers)
	for range workers {
		go p.work(ctx)
	}
	return p
}

func (p *workerPool[In, Out]) work(ctx context.Context) {
	defer p.wg.Done()
	for j := range p.queue {
		var r jobResult[Out]
		if err := ctx.Err(); err != nil {
			r.err = err
		} else {
			r.value, r.err = p.call(ctx, j.in)
		}
		if j.reply != nil {
			j.reply <- r
		}
	}
}

// call runs fn, turning a panic into an error so one bad record cannot take
// down the worker.
func (p *workerPool[In, Out]) call(ctx context.Context, in In) (v Out, err error) {
	metrics.WorkersBusy.Set(float64(p.busy.Add(1)))
	defer func() {
		metrics.WorkersBusy.Set(float64(p.busy.Add(-1)))
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return p.fn(ctx, in)
}

// Submit enqueues without blocking and reports whether there was room.
func (p *workerPool[In, Out]) Submit(in In, reply chan<- jobResult[Out]) bool {
	return p.enqueue(nil, job[In, Out]{in: in, reply: reply})
}

// SubmitWait blocks until the job is queued or ctx is done.
func (p *workerPool[In, Out]) SubmitWait(ctx context.Context, in In, reply chan<- jobResult[Out]) bool {
	return p.enqueue(ctx.Done(), job[In, Out]{in: in, reply: reply})
}

// enqueue waits on done for room; a nil done never blocks. It reports false
// once the pool is drained.
func (p *workerPool[In, Out]) enqueue(done <-chan struct{}, j job[In, Out]) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	if done == nil {
		select {
		case p.queue <- j:
			return true
		default:
			return false
		}
	}
	select {
	case p.queue <- j:
		return true
	case <-done:
		return false
	}
}

// Drain stops intake and waits for queued jobs to finish. It is safe to
// call more than once.
func (p *workerPool[In, Out]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *workerPool[In, Out]) QueueLen() int { return len(p.queue) }

func (p *workerPool[In, Out]) QueueCap() int { return cap(p.queue) }

// Busy is the number of workers currently running fn.
func (p *workerPool[In, Out]) Busy() int { return int(p.busy.Load()) }
