package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/queue"
	"github.com/terralens/terralens-api/internal/service"
)

// popErrorBackoff is the pause after a failed pop, so a broken queue
// connection does not spin the loop.
const popErrorBackoff = 2 * time.Second

// Handler executes one analysis kind end to end: resolve the task row,
// stage inputs, run inference, persist outputs, write completion.
type Handler interface {
	Kind() domain.TaskKind
	Run(ctx context.Context, desc domain.Descriptor) error
}

// Popper is the consumer side of the task queue.
type Popper interface {
	Pop(ctx context.Context) (domain.Descriptor, error)
}

// Dispatcher runs the single background worker loop. One worker at a
// time: inference jobs contend for the same accelerator, so tasks start
// and finish in queue order.
type Dispatcher struct {
	queue    Popper
	tasks    service.TaskService
	handlers map[domain.TaskKind]Handler
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given handlers registered
// by kind.
func NewDispatcher(q Popper, tasks service.TaskService, handlers []Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	byKind := make(map[domain.TaskKind]Handler, len(handlers))
	for _, h := range handlers {
		byKind[h.Kind()] = h
	}
	return &Dispatcher{
		queue:    q,
		tasks:    tasks,
		handlers: byKind,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Start launches the worker loop. Call Stop to shut it down.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop cancels the loop and waits for it to exit. A handler already
// running is allowed to finish; only the blocking pop is interrupted.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	d.logger.Info("dispatcher started")
	for {
		desc, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				d.logger.Info("dispatcher stopped")
				return
			}
			d.logger.Error("failed to pop task descriptor", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(popErrorBackoff):
			}
			continue
		}

		// Detach from the stop signal: a task that reached its external
		// process keeps running to completion, only the pop is interrupted.
		d.process(context.WithoutCancel(ctx), desc)
	}
}

// process runs one descriptor to completion. Handler failures are logged
// and the loop continues; the task stays incomplete until recreated or
// requeued by the startup sweep.
func (d *Dispatcher) process(ctx context.Context, desc domain.Descriptor) {
	logger := d.logger.With(
		"type", desc.Kind,
		"task_id", desc.ID,
		"project_id", desc.ProjectID,
	)

	handler, ok := d.handlers[desc.Kind]
	if !ok {
		logger.Error("unknown task type, dropping descriptor")
		return
	}

	if err := d.tasks.MarkRunning(ctx, desc.ProjectID); err != nil {
		logger.Error("failed to mark project running", "error", err)
		return
	}

	logger.Info("processing task")
	if err := handler.Run(ctx, desc); err != nil {
		logger.Error("task execution failed", "error", err)
		return
	}
	logger.Info("task completed")
}
