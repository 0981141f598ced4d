// Package localfs executes copy, move and extract transfers against the
// local filesystem. Each started transfer runs on its own goroutine with a
// cancellation context and a pause gate; all transfers share one bandwidth
// limiter so the global throttle applies to their combined throughput.
package localfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/ferryfm/ferry/internal/backend"
	"github.com/ferryfm/ferry/internal/logging"
	"github.com/ferryfm/ferry/internal/ratelimit"
)

// Backend is the local filesystem transfer executor.
type Backend struct {
	mu   sync.Mutex
	jobs map[string]*job

	sink    backend.EventSink
	limiter *ratelimit.Limiter
	log     *logging.Logger
}

type job struct {
	id     string
	cancel context.CancelFunc
	gate   *backend.Gate
}

// New creates a backend reporting through sink.
func New(sink backend.EventSink, log *logging.Logger) *Backend {
	if log == nil {
		log = logging.Nop()
	}
	return &Backend{
		jobs:    make(map[string]*job),
		sink:    sink,
		limiter: ratelimit.NewLimiter(0),
		log:     log,
	}
}

// SetBandwidthLimit reconfigures the shared throttle. Takes effect on the
// next chunk of every ongoing transfer.
func (b *Backend) SetBandwidthLimit(bytesPerSec int64) {
	b.limiter.Reconfigure(bytesPerSec)
}

// Start validates the request and launches the worker goroutine. Execution
// results are reported through the sink, never through Start's return.
func (b *Backend) Start(req backend.StartRequest) error {
	switch req.Kind {
	case backend.KindCopy, backend.KindMove, backend.KindExtract:
	default:
		return fmt.Errorf("localfs: unsupported transfer kind %q", req.Kind)
	}
	if len(req.Sources) == 0 {
		return fmt.Errorf("localfs: no sources for transfer %s", req.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     req.ID,
		cancel: cancel,
		gate:   backend.NewGate(),
	}

	b.mu.Lock()
	if _, exists := b.jobs[req.ID]; exists {
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("localfs: transfer %s already running", req.ID)
	}
	b.jobs[req.ID] = j
	b.mu.Unlock()

	b.limiter.Reconfigure(req.BandwidthLimit)

	go b.run(ctx, j, req)
	return nil
}

// Pause closes the transfer's gate; the worker blocks before its next chunk.
func (b *Backend) Pause(id string) error {
	j, err := b.lookup(id)
	if err != nil {
		return err
	}
	j.gate.Pause()
	return nil
}

// Resume reopens the transfer's gate.
func (b *Backend) Resume(id string) error {
	j, err := b.lookup(id)
	if err != nil {
		return err
	}
	j.gate.Resume()
	return nil
}

// Cancel cancels the transfer's context. The worker acknowledges with a
// terminal cancelled event once it unwinds. A paused transfer is resumed
// first so the worker can observe the cancellation.
func (b *Backend) Cancel(id string) error {
	j, err := b.lookup(id)
	if err != nil {
		return err
	}
	j.cancel()
	j.gate.Resume()
	return nil
}

func (b *Backend) lookup(id string) (*job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, fmt.Errorf("localfs: no running transfer %s", id)
	}
	return j, nil
}

// run executes the transfer and reports the terminal outcome.
func (b *Backend) run(ctx context.Context, j *job, req backend.StartRequest) {
	defer func() {
		b.mu.Lock()
		delete(b.jobs, j.id)
		b.mu.Unlock()
		j.cancel()
	}()

	meter := backend.NewMeter(b.sink, j.id)
	w := &worker{
		ctx:     ctx,
		gate:    j.gate,
		limiter: b.limiter,
		meter:   meter,
	}

	var err error
	switch req.Kind {
	case backend.KindCopy:
		err = w.copyAll(req.Sources, req.Destination, false)
	case backend.KindMove:
		err = w.copyAll(req.Sources, req.Destination, true)
	case backend.KindExtract:
		err = w.extractAll(req.Sources, req.Destination)
	}

	meter.Flush()
	switch {
	case ctx.Err() != nil:
		b.log.Debugf("transfer %s cancelled", j.id)
		b.sink.Terminal(j.id, backend.Cancelled())
	case err != nil:
		b.log.Warnf("transfer %s failed: %v", j.id, err)
		b.sink.Terminal(j.id, backend.Failure(err.Error()))
	default:
		b.sink.Terminal(j.id, backend.Success())
	}
}

var _ backend.Backend = (*Backend)(nil)
