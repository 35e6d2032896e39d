package task

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// GoDispatcher runs each task in its own goroutine. Tasks are detached from
// the dispatching request and only stop when the dispatcher shuts down.
type GoDispatcher struct {
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewGoDispatcher(logger *zap.Logger) *GoDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoDispatcher{
		logger:   logger.Named("tasks"),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
	}
}

func (d *GoDispatcher) Handle(taskType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[taskType] = h
}

func (d *GoDispatcher) Dispatch(_ context.Context, taskType, jobID string) error {
	d.mu.RLock()
	h, ok := d.handlers[taskType]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for task %q", taskType)
	}
	if d.ctx.Err() != nil {
		return fmt.Errorf("dispatcher stopped")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Task panicked",
					zap.String("type", taskType), zap.String("job_id", jobID), zap.Any("panic", r))
			}
		}()

		if err := h(d.ctx, jobID); err != nil {
			d.logger.Error("Task failed",
				zap.String("type", taskType), zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched task has returned.
func (d *GoDispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown cancels running tasks and waits for them until ctx is done.
func (d *GoDispatcher) Shutdown(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
