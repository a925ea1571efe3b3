package processor

import (
	"context"
	"sync"
	"time"

	"github.com/SplitSync/split-sync-backend/logger"
	"github.com/SplitSync/split-sync-backend/types"
	"go.uber.org/zap"
)

// Dispatcher decouples transport callbacks from event application. Inbound
// events are queued and applied on a bounded worker pool suited to blocking
// storage I/O, so a slow apply in one group never blocks another group's
// listener.
type Dispatcher struct {
	proc    *Processor
	queue   chan types.Event
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.SugaredLogger
	metrics *processorMetrics
	workers int

	mu      sync.Mutex
	running bool
}

// NewDispatcher creates a dispatcher with the given worker count and queue
// capacity. It must be started before events are enqueued.
func NewDispatcher(proc *Processor, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Dispatcher{
		proc:    proc,
		queue:   make(chan types.Event, queueSize),
		log:     logger.GetLogger().Named("dispatcher"),
		metrics: newProcessorMetrics(),
		workers: workers,
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.running = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.log.Infow("Dispatcher started", "workers", d.workers, "queueSize", cap(d.queue))
}

// Enqueue hands an inbound event to the pool. It never blocks: when the
// queue is full the event is dropped and counted, relying on at-least-once
// redelivery to recover it later.
func (d *Dispatcher) Enqueue(event types.Event) bool {
	select {
	case d.queue <- event:
		d.metrics.queueDepth.Set(float64(len(d.queue)))
		return true
	default:
		d.metrics.droppedInbound.Inc()
		d.log.Warnw("Dispatch queue full, dropping event",
			"eventId", event.ID, "type", event.Type, "groupId", event.GroupID)
		return false
	}
}

// Stop drains outstanding work, waiting up to timeout for workers to finish.
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("Dispatcher stopped")
	case <-time.After(timeout):
		d.log.Warn("Dispatcher stop timed out with workers still busy")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.metrics.queueDepth.Set(float64(len(d.queue)))
			if err := d.proc.Process(d.ctx, event); err != nil {
				// Already logged by the processor; the event stays eligible
				// for redelivery.
				continue
			}
		case <-d.ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-d.queue:
					if err := d.proc.Process(context.Background(), event); err != nil {
						continue
					}
				default:
					return
				}
			}
		}
	}
}
