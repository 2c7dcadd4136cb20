package trustgraph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/metrics"
	"github.com/andperez123/capnet/internal/model"
)

// Sink delivers a single event. *Emitter is the production Sink.
type Sink interface {
	Emit(ctx context.Context, ev model.TrustEvent) model.EmitResult
}

// Dispatcher moves trust events off the request path. Publish never blocks:
// when the queue is full or the dispatcher is closed the event is dropped
// and counted. Delivery results are only logged.
type Dispatcher struct {
	sink      Sink
	log       zerolog.Logger
	now       func() time.Time
	ch        chan model.TrustEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	// mu orders sends against Close: no send lands after the workers drain.
	mu sync.RWMutex
}

// NewDispatcher starts workers goroutines draining a queue of queueSize events.
func NewDispatcher(sink Sink, queueSize, workers int, log zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		sink: sink,
		log:  log,
		now:  time.Now,
		ch:   make(chan model.TrustEvent, queueSize),
		done: make(chan struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.ch:
			d.deliver(ev)
		case <-d.done:
			for {
				select {
				case ev := <-d.ch:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev model.TrustEvent) {
	res := d.sink.Emit(context.Background(), ev)
	l := d.log.Debug()
	if !res.Emitted && res.Reason == "" {
		l = d.log.Warn()
	}
	l.Str("type", ev.Type).
		Str("subject", ev.Subject).
		Bool("emitted", res.Emitted).
		Int("status", res.Status).
		Str("reason", res.Reason).
		Str("error", res.Error).
		Msg("trust event delivered")
}

// Publish enqueues ev, stamping its timestamp at publish time.
func (d *Dispatcher) Publish(ev model.TrustEvent) {
	if d == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		d.drop(ev)
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.drop(ev)
	}
}

func (d *Dispatcher) drop(ev model.TrustEvent) {
	d.dropped.Add(1)
	metrics.TrustEventDropped()
	d.log.Warn().Str("type", ev.Type).Str("subject", ev.Subject).Msg("trust event dropped")
}

// Close stops accepting events, delivers what is queued and waits for the
// workers. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

// Shutdown is Close bounded by ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		d.Close()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events discarded so far.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Name, IsHealthy and Start let the dispatcher report through the service
// health checker. It is healthy until closed.
func (d *Dispatcher) Name() string    { return "trust-dispatcher" }
func (d *Dispatcher) IsHealthy() bool { return !d.closed.Load() }

func (d *Dispatcher) Start(ctx context.Context, _ time.Duration) { <-ctx.Done() }
