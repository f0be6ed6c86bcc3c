// Package event runs firmware event handlers on a single goroutine and
// follow-up work on a second, FIFO worker.
//
// Handlers never submit commands: a command reply arrives on the same
// receive path as events, so a handler blocking on one would stall the
// path that delivers it. Handlers Schedule the command instead.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
	"github.com/wlanfw/wlanfw-go/pkg/log"
	"github.com/wlanfw/wlanfw-go/pkg/wait"
	"github.com/wlanfw/wlanfw-go/pkg/wire"
)

// DefaultQueueDepth is the default event and work queue capacity.
const DefaultQueueDepth = 64

// ErrQueueFull is returned by Post when the event queue is at capacity.
var ErrQueueFull = errors.New("event queue full")

// HandlerFunc processes one firmware event on the event goroutine.
type HandlerFunc func(ev *wire.Event)

// WorkFunc is follow-up work run on the worker goroutine.
type WorkFunc func(ctx context.Context)

type work struct {
	name string
	fn   WorkFunc
}

// Config configures a Dispatcher.
type Config struct {
	QueueDepth int
	Logger     *slog.Logger
	Tracer     *log.Tracer
}

// Dispatcher owns the event queue and the follow-up work queue.
type Dispatcher struct {
	logger *slog.Logger
	tracer *log.Tracer

	handlers map[wire.EventCode]HandlerFunc

	events chan *wire.Event
	work   chan work
	idle   wait.Signal

	mu         sync.Mutex
	pending    int
	running    bool
	stopped    bool
	workClosed bool
	cancel     context.CancelFunc
	done       sync.WaitGroup
}

// New creates a Dispatcher.
func New(config Config) *Dispatcher {
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger.With("component", "event"),
		tracer:   config.Tracer,
		handlers: make(map[wire.EventCode]HandlerFunc),
		events:   make(chan *wire.Event, config.QueueDepth),
		work:     make(chan work, config.QueueDepth),
	}
}

// Handle registers the handler for code. It must be called before Run.
func (d *Dispatcher) Handle(code wire.EventCode, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		panic("event: Handle called after Run")
	}
	d.handlers[code] = fn
}

// Run starts the event and worker goroutines. It returns immediately.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return
	}
	d.running = true

	ctx, d.cancel = context.WithCancel(ctx)
	d.done.Add(2)
	go d.eventLoop()
	go d.workLoop(ctx)
}

// Post enqueues an event from the receive path without blocking.
func (d *Dispatcher) Post(ev *wire.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return fwerr.New("post", fwerr.ErrCancelled)
	}
	select {
	case d.events <- ev:
		d.pending++
		return nil
	default:
		d.tracer.FirmwareEvent(ev, true)
		d.logger.Warn("event queue full, dropping event", "event", ev.Code, "iface", ev.Interface)
		return ErrQueueFull
	}
}

// Schedule enqueues follow-up work. Handlers draining during Stop may still
// schedule; work scheduled after the event queue drained is dropped.
func (d *Dispatcher) Schedule(name string, fn WorkFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workClosed {
		d.logger.Debug("dropping work after stop", "work", name)
		return
	}
	select {
	case d.work <- work{name: name, fn: fn}:
		d.pending++
	default:
		// The worker queue is full: run detached rather than block the
		// caller, which is usually the event goroutine.
		d.pending++
		d.done.Add(1)
		go func() {
			defer d.done.Done()
			d.runWork(context.Background(), work{name: name, fn: fn})
		}()
	}
}

// Flush waits until every posted event and scheduled work item has run.
func (d *Dispatcher) Flush(ctx context.Context, timeout time.Duration) error {
	return d.idle.Await(ctx, timeout, nil, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.pending == 0
	})
}

// Stop refuses new events, lets queued events and work run, and returns
// once both goroutines have exited.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.done.Wait()
		return
	}
	d.stopped = true
	running := d.running
	close(d.events)
	d.mu.Unlock()

	if !running {
		return
	}
	d.done.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) eventLoop() {
	defer d.done.Done()
	// The work queue is closed once the event queue drains, because
	// handlers are the main producers of work.
	defer func() {
		d.mu.Lock()
		d.workClosed = true
		close(d.work)
		d.mu.Unlock()
	}()

	for ev := range d.events {
		d.dispatch(ev)
		d.finishOne()
	}
}

func (d *Dispatcher) dispatch(ev *wire.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			d.tracer.Error(log.LayerEvent, ev.Code.String(), err)
			d.logger.Error("event handler panicked", "event", ev.Code, "iface", ev.Interface, "panic", r)
		}
	}()

	fn, ok := d.handlers[ev.Code]
	d.tracer.FirmwareEvent(ev, !ok)
	if !ok {
		d.logger.Warn("dropping unknown event", "event", ev.Code, "iface", ev.Interface)
		return
	}
	d.logger.Debug("event", "event", ev.Code, "iface", ev.Interface)
	fn(ev)
}

func (d *Dispatcher) workLoop(ctx context.Context) {
	defer d.done.Done()
	for w := range d.work {
		d.runWork(ctx, w)
	}
}

func (d *Dispatcher) runWork(ctx context.Context, w work) {
	defer d.finishOne()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("follow-up work panicked", "work", w.name, "panic", r)
		}
	}()
	d.logger.Debug("running follow-up work", "work", w.name)
	w.fn(ctx)
}

func (d *Dispatcher) finishOne() {
	d.mu.Lock()
	d.pending--
	d.mu.Unlock()
	d.idle.Notify()
}
