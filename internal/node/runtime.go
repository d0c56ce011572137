// Package node runs a mesh application: a single event loop on which every
// stack callback and host command executes, the event bus fed by host
// events, and the subscribers that persist them.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"mesh-ctl-client/internal/mesh"
)

var (
	// ErrStopped is returned by Submit once the loop has exited.
	ErrStopped = errors.New("node: runtime stopped")
	// ErrNoApp is returned by Submit before an application is attached.
	ErrNoApp = errors.New("node: no application attached")
)

// Runtime is the node event loop. Work posted to it runs one item at a
// time, in order, on the goroutine that called Run.
type Runtime struct {
	logger *slog.Logger

	mu    sync.Mutex
	queue []func()
	app   mesh.App

	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

var _ mesh.Scheduler = (*Runtime)(nil)

// NewRuntime creates a loop. Call Attach before Start.
func NewRuntime(logger *slog.Logger) *Runtime {
	return &Runtime{
		logger:  logger.With("component", "runtime"),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Attach sets the application whose callbacks the loop runs. The stack
// usually needs the runtime as its scheduler before the application exists,
// hence the separate step.
func (r *Runtime) Attach(app mesh.App) {
	r.mu.Lock()
	r.app = app
	r.mu.Unlock()
}

// Post queues fn. It never blocks and is safe to call from the loop itself.
// Work posted after the loop stopped is dropped.
func (r *Runtime) Post(fn func()) {
	select {
	case <-r.stopped:
		r.logger.Debug("post after stop dropped")
		return
	default:
	}
	r.mu.Lock()
	r.queue = append(r.queue, fn)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start queues the application's Init. It is the first callback the
// application sees.
func (r *Runtime) Start(provisioned bool) error {
	app := r.application()
	if app == nil {
		return ErrNoApp
	}
	r.Post(func() { app.Init(provisioned) })
	return nil
}

// Submit runs a host command on the loop and reports whether the
// application handled the opcode.
func (r *Runtime) Submit(ctx context.Context, opcode uint16, payload []byte) (bool, error) {
	app := r.application()
	if app == nil {
		return false, ErrNoApp
	}
	data := append([]byte(nil), payload...)
	res := make(chan bool, 1)
	r.Post(func() { res <- app.ProcessCommand(opcode, data) })

	select {
	case handled := <-res:
		return handled, nil
	case <-ctx.Done():
		return false, fmt.Errorf("node: submit 0x%04X: %w", opcode, ctx.Err())
	case <-r.stopped:
		return false, ErrStopped
	}
}

// Dispatch queues a host command without waiting for it. Opcodes the
// application does not handle are logged.
func (r *Runtime) Dispatch(opcode uint16, payload []byte) {
	app := r.application()
	if app == nil {
		r.logger.Warn("command dropped", "opcode", fmt.Sprintf("0x%04X", opcode), "err", ErrNoApp)
		return
	}
	data := append([]byte(nil), payload...)
	r.Post(func() {
		if !app.ProcessCommand(opcode, data) {
			r.logger.Warn("unhandled command", "opcode", fmt.Sprintf("0x%04X", opcode))
		}
	})
}

// Run executes queued work until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.once.Do(func() { close(r.stopped) })
	r.logger.Info("node loop started")
	for {
		for {
			fn := r.next()
			if fn == nil {
				break
			}
			r.run(fn)
			if ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			r.logger.Info("node loop stopped", "pending", r.pending())
			return nil
		case <-r.wake:
		}
	}
}

func (r *Runtime) next() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	fn := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return fn
}

func (r *Runtime) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Runtime) run(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("node callback panic", "panic", p)
		}
	}()
	fn()
}

func (r *Runtime) application() mesh.App {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.app
}
