package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Supervisor tracks outstanding tasks so host shutdown can abandon and join them.
// Owners still call Finish on their own tasks.
type Supervisor struct {
	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
	logger *zap.Logger
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		tasks:  make(map[*Task]struct{}),
		logger: logger,
	}
}

// Outstanding reports the number of started tasks whose Finish has not returned.
func (s *Supervisor) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown interrupts every outstanding task and waits for their goroutines to exit.
// A task cut short this way finishes with KindInterrupted. Tasks started after
// Shutdown are interrupted immediately. It returns early only if
// ctx ends first.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	if len(tasks) > 0 {
		s.logger.Info("interrupting outstanding bridge tasks", zap.Int("count", len(tasks)))
	}
	for _, t := range tasks {
		t.interrupt()
	}
	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return fmt.Errorf("join task %s: %w", t.Name(), ctx.Err())
		}
	}
	return nil
}

func (s *Supervisor) track(t *Task) {
	s.mu.Lock()
	closed := s.closed
	s.tasks[t] = struct{}{}
	s.mu.Unlock()
	if closed {
		t.interrupt()
	}
}

func (s *Supervisor) untrack(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, t)
}
