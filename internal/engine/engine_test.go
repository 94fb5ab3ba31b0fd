package engine_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncloudioj/gcp-ingestion/internal/codec"
	"github.com/ncloudioj/gcp-ingestion/internal/engine"
	"github.com/ncloudioj/gcp-ingestion/internal/event"
)

func newEngine(t *testing.T, mode engine.Mode, sink engine.Sink) *engine.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, newStage(t, mode), engine.Config{
		EventWorkers:   4,
		QueueDepth:     64,
		EventTimeoutMs: 2000,
	}, sink, zerolog.Nop())
	t.Cleanup(func() {
		eng.Shutdown()
		cancel()
	})
	return eng
}

type collectSink struct {
	mu      sync.Mutex
	results []engine.Result
}

func (c *collectSink) Write(r engine.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func TestProcessSync(t *testing.T) {
	eng := newEngine(t, engine.ModeContextualServices, nil)

	res, err := eng.ProcessSync(context.Background(), topSitesClick())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.NotEmpty(t, res.Interaction.ReportingURL)

	bad := topSitesClick()
	bad.Attributes[event.AttrDocumentType] = "main"
	res, err = eng.ProcessSync(context.Background(), bad)
	require.NoError(t, err)
	assert.False(t, res.OK())
}

func TestProcessAsyncWritesToSink(t *testing.T) {
	sink := &collectSink{}
	eng := newEngine(t, engine.ModeGeo, sink)

	for i := 0; i < 10; i++ {
		require.True(t, eng.ProcessAsync(event.Record{Attributes: event.Attributes{"remote_addr": "202.196.224.0"}}))
	}
	eng.Shutdown()

	require.Equal(t, 10, sink.len())
	for _, r := range sink.results {
		assert.Equal(t, "PH", r.Record.Attributes[event.AttrGeoCountry])
	}
	assert.False(t, eng.ProcessAsync(event.Record{}), "no records accepted after shutdown")
	_, err := eng.ProcessSync(context.Background(), event.Record{})
	assert.ErrorIs(t, err, engine.ErrShutdown)
}

func TestRun(t *testing.T) {
	eng := newEngine(t, engine.ModeContextualServices, nil)

	var records, failures bytes.Buffer
	rw, err := codec.NewRecordWriter(&failures, codec.FormatJSON)
	require.NoError(t, err)
	sink := &engine.StreamSink{Interactions: codec.NewJSONLines(&records), Failures: rw}

	in := make(chan event.Record)
	go func() {
		defer close(in)
		for i := 0; i < 20; i++ {
			rec := topSitesClick()
			if i%4 == 0 {
				rec.Attributes[event.AttrDocumentType] = "unknown"
			}
			in <- rec
		}
	}()

	require.NoError(t, eng.Run(context.Background(), in, sink))
	ok, failed := sink.Counts()
	assert.Equal(t, 15, ok)
	assert.Equal(t, 5, failed)
	assert.Equal(t, 15, bytes.Count(records.Bytes(), []byte("\n")))
	assert.Equal(t, 5, bytes.Count(failures.Bytes(), []byte("\n")))
	assert.Contains(t, failures.String(), `"error_type":"invalid_attribute"`)
}

func TestRunStopsOnSinkError(t *testing.T) {
	eng := newEngine(t, engine.ModeGeo, nil)
	boom := errors.New("disk full")

	in := make(chan event.Record, 100)
	for i := 0; i < 100; i++ {
		in <- event.Record{Attributes: event.Attributes{}}
	}
	close(in)

	err := eng.Run(context.Background(), in, engine.SinkFunc(func(engine.Result) error { return boom }))
	assert.ErrorIs(t, err, boom)
}

func TestRunCancelled(t *testing.T) {
	eng := newEngine(t, engine.ModeGeo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan event.Record)

	errC := make(chan error, 1)
	go func() { errC <- eng.Run(ctx, in, engine.SinkFunc(func(engine.Result) error { return nil })) }()
	cancel()

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestRunCancelledWithEngineContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := engine.New(ctx, newStage(t, engine.ModeGeo), engine.Config{
		EventWorkers:   1,
		QueueDepth:     256,
		EventTimeoutMs: 2000,
	}, nil, zerolog.Nop())
	t.Cleanup(eng.Shutdown)

	in := make(chan event.Record, 5000)
	for i := 0; i < 5000; i++ {
		in <- event.Record{Attributes: event.Attributes{event.AttrRemoteAddr: "202.196.224.0"}}
	}
	close(in)
	slow := engine.SinkFunc(func(engine.Result) error {
		time.Sleep(100 * time.Microsecond)
		return nil
	})

	errC := make(chan error, 1)
	go func() { errC <- eng.Run(ctx, in, slow) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after the engine context was cancelled")
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	eng := newEngine(t, engine.ModeGeo, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				eng.ProcessAsync(event.Record{Attributes: event.Attributes{}})
				_, _ = eng.ProcessSync(context.Background(), event.Record{Attributes: event.Attributes{}})
			}
		}()
	}
	eng.Shutdown()
	wg.Wait()

	assert.False(t, eng.ProcessAsync(event.Record{}))
	_, err := eng.ProcessSync(context.Background(), event.Record{})
	assert.ErrorIs(t, err, engine.ErrShutdown)
}

func TestQueueUtilization(t *testing.T) {
	eng := newEngine(t, engine.ModeGeo, nil)
	u := eng.QueueUtilization()
	assert.GreaterOrEqual(t, u, 0.0)
	assert.LessOrEqual(t, u, 1.0)
}

func TestSwapStage(t *testing.T) {
	eng := newEngine(t, engine.ModeGeo, nil)
	next := newStage(t, engine.ModeContextualServices)
	eng.SwapStage(next)
	assert.Same(t, next, eng.Stage())
	assert.Equal(t, engine.ModeContextualServices, eng.Stage().Mode())
}
