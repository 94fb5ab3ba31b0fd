package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ncloudioj/gcp-ingestion/internal/event"
	"github.com/ncloudioj/gcp-ingestion/internal/metrics"
)

// ErrQueueFull is returned when a record cannot be enqueued without
// blocking.
var ErrQueueFull = errors.New("record queue full")

// ErrShutdown is returned for records submitted after Shutdown.
var ErrShutdown = errors.New("engine is shut down")

// Config sizes the worker pool.
type Config struct {
	EventWorkers   int
	QueueDepth     int
	EventTimeoutMs int
}

// Engine processes records through a Stage on a bounded worker pool.
type Engine struct {
	stage    atomic.Pointer[Stage]
	pool     *workerPool[event.Record, Result]
	conf     Config
	async    chan jobResult[Result]
	sink     Sink
	sinkDone chan struct{}
	closed   atomic.Bool
	log      zerolog.Logger
}

// New creates an Engine and starts its workers. Results of ProcessAsync
// are written to sink; a nil sink discards them.
func New(ctx context.Context, stage *Stage, conf Config, sink Sink, log zerolog.Logger) *Engine {
	if conf.EventWorkers <= 0 {
		conf.EventWorkers = 1
	}
	e := &Engine{
		conf:     conf,
		async:    make(chan jobResult[Result], conf.QueueDepth+conf.EventWorkers),
		sink:     sink,
		sinkDone: make(chan struct{}),
		log:      log,
	}
	e.stage.Store(stage)
	e.pool = newWorkerPool[event.Record, Result](ctx, conf.EventWorkers, conf.QueueDepth, e.processRecord)
	go e.drainAsync()
	return e
}

// SwapStage atomically replaces the stage (used on config reload).
func (e *Engine) SwapStage(s *Stage) {
	e.stage.Store(s)
}

// Stage returns the stage currently in use.
func (e *Engine) Stage() *Stage {
	return e.stage.Load()
}

// ProcessSync processes a record and waits for its result, bounded by the
// configured per-record timeout.
func (e *Engine) ProcessSync(ctx context.Context, rec event.Record) (Result, error) {
	if e.closed.Load() {
		return Result{}, ErrShutdown
	}
	resultC := make(chan jobResult[Result], 1)
	if !e.pool.Submit(rec, resultC) {
		if e.closed.Load() {
			return Result{}, ErrShutdown
		}
		metrics.RecordsDropped.Inc()
		return Result{}, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.conf.QueueDepth)
	}
	metrics.RecordsEnqueued.Inc()

	timeout := time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultC:
		return res.value, res.err
	case <-timer.C:
		return Result{}, fmt.Errorf("record processing timeout after %v", timeout)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ProcessAsync enqueues a record for background processing. Returns false
// if the queue is full.
func (e *Engine) ProcessAsync(rec event.Record) bool {
	if e.closed.Load() {
		return false
	}
	if !e.pool.Submit(rec, e.async) {
		if !e.closed.Load() {
			metrics.RecordsDropped.Inc()
		}
		return false
	}
	metrics.RecordsEnqueued.Inc()
	return true
}

// Run feeds every record from in through the pool and writes each result
// to sink, blocking while the queue is full. It returns when in is closed
// and all records are done, or with the first fatal processing or sink
// error, which stops the feed. Cancelling either ctx or the context the
// Engine was created with ends the run with that context's error.
func (e *Engine) Run(ctx context.Context, in <-chan event.Record, sink Sink) error {
	if e.closed.Load() {
		return ErrShutdown
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make(chan jobResult[Result], e.conf.EventWorkers)
	var pending sync.WaitGroup
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			switch {
			case r.err != nil:
				cancel(r.err)
			case ctx.Err() == nil:
				if err := sink.Write(r.value); err != nil {
					cancel(fmt.Errorf("write result: %w", err))
				}
			}
			pending.Done()
		}
	}()

feed:
	for {
		select {
		case <-ctx.Done():
			break feed
		case rec, ok := <-in:
			if !ok {
				break feed
			}
			pending.Add(1)
			if !e.pool.SubmitWait(ctx, rec, results) {
				pending.Done()
				break feed
			}
			metrics.RecordsEnqueued.Inc()
		}
	}

	pending.Wait()
	close(results)
	<-done
	return context.Cause(ctx)
}

// QueueUtilization returns queue used / capacity (0-1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// BusyWorkers returns how many workers are processing a record right now.
func (e *Engine) BusyWorkers() int { return e.pool.Busy() }

func (e *Engine) processRecord(_ context.Context, rec event.Record) (Result, error) {
	start := time.Now()
	res, err := e.stage.Load().Process(rec)
	metrics.RecordProcessingDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case !res.OK():
		outcome = "failure"
	}
	metrics.RecordsProcessed.WithLabelValues(outcome).Inc()
	return res, err
}

func (e *Engine) drainAsync() {
	defer close(e.sinkDone)
	for r := range e.async {
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded) {
				e.log.Debug().Err(r.err).Msg("record dropped after cancellation")
			} else {
				e.log.Error().Err(r.err).Msg("fatal error processing record")
			}
			continue
		}
		if e.sink == nil {
			continue
		}
		if err := e.sink.Write(r.value); err != nil {
			e.log.Error().Err(err).Msg("writing result")
		}
	}
}

// Shutdown drains the pool and flushes pending async results to the sink.
func (e *Engine) Shutdown() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.pool.Drain()
	close(e.async)
	<-e.sinkDone
}
