// Package bot supervises the long-running tasks: ingestion pipelines,
// pollers, the decision engine and the trade lifecycle. Each task is a
// named goroutine that can be stopped and restarted independently from
// the control API.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/logging"
)

// Task states.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StateFailed  = "failed"
)

// errorRateWindow bounds the error-rate calculation.
const errorRateWindow = 5 * time.Minute

// Task is one supervised unit of work. Run must return promptly when
// its context ends. Backlog, when set, reports queued work for the
// status surface.
type Task struct {
	Name    string
	Run     func(ctx context.Context)
	Backlog func() int
}

// Status is one task's row on the control surface.
type Status struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	LastEventTime time.Time `json:"last_event_time,omitempty"`
	ErrorRate     float64   `json:"error_rate"` // errors per minute, trailing window
	Backlog       int       `json:"backlog"`
}

type taskState struct {
	task      Task
	state     string
	cancel    context.CancelFunc
	startedAt time.Time
	lastEvent time.Time
	errorLog  []time.Time
}

// Supervisor owns the task set.
type Supervisor struct {
	bus   *events.Bus
	log   *logging.Logger
	nowFn func() time.Time

	mu    sync.Mutex
	base  context.Context
	tasks map[string]*taskState
	order []string
	wg    sync.WaitGroup
}

// NewSupervisor creates the supervisor and wires it to the bus: task
// lifecycle events and data-plane activity both feed the status rows.
func NewSupervisor(bus *events.Bus) *Supervisor {
	s := &Supervisor{
		bus:   bus,
		log:   logging.WithComponent("supervisor"),
		nowFn: time.Now,
		tasks: make(map[string]*taskState),
	}
	if bus != nil {
		bus.Subscribe(events.EventTaskError, func(ev events.Event) {
			if name, ok := ev.Data["task"].(string); ok {
				s.noteError(name, ev.Timestamp)
			}
		})
		bus.SubscribeAll(func(ev events.Event) {
			if name, ok := ev.Data["task"].(string); ok {
				s.noteEvent(name, ev.Timestamp)
			}
		})
	}
	return s
}

// Register adds a task. Registration order is preserved in Statuses.
func (s *Supervisor) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.Name]; exists {
		return
	}
	s.tasks[t.Name] = &taskState{task: t, state: StateStopped}
	s.order = append(s.order, t.Name)
}

// StartAll launches every registered task under ctx.
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	names := append([]string(nil), s.order...)
	s.mu.Unlock()
	for _, name := range names {
		if err := s.Start(name); err != nil {
			s.log.Error("task start failed", "task", name, "error", err)
		}
	}
}

// Start launches one task by name. Starting a running task is a no-op.
func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown task %q", name)
	}
	if ts.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	base := s.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	ts.cancel = cancel
	ts.state = StateRunning
	ts.startedAt = s.nowFn()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task panicked", "task", name, "panic", fmt.Sprint(r))
				s.setState(name, StateFailed)
				if s.bus != nil {
					s.bus.Publish(events.EventTaskError, map[string]interface{}{
						"task": name, "error": fmt.Sprint(r),
					})
				}
				return
			}
			s.setState(name, StateStopped)
		}()

		s.log.Info("task started", "task", name)
		if s.bus != nil {
			s.bus.Publish(events.EventTaskStarted, map[string]interface{}{"task": name})
		}
		ts.task.Run(ctx)
		s.log.Info("task stopped", "task", name)
		if s.bus != nil {
			s.bus.Publish(events.EventTaskStopped, map[string]interface{}{"task": name})
		}
	}()
	return nil
}

// Stop cancels one task by name and marks it stopped.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	if ts.state != StateRunning || ts.cancel == nil {
		return nil
	}
	ts.cancel()
	ts.cancel = nil
	return nil
}

// Wait blocks until every task goroutine has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Statuses returns one row per task in registration order.
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		ts := s.tasks[name]
		row := Status{
			Name:          name,
			State:         ts.state,
			StartedAt:     ts.startedAt,
			LastEventTime: ts.lastEvent,
			ErrorRate:     errorRate(ts.errorLog, now),
		}
		if ts.task.Backlog != nil {
			row.Backlog = ts.task.Backlog()
		}
		out = append(out, row)
	}
	return out
}

func (s *Supervisor) setState(name, state string) {
	s.mu.Lock()
	if ts, ok := s.tasks[name]; ok {
		ts.state = state
		ts.cancel = nil
	}
	s.mu.Unlock()
}

func (s *Supervisor) noteEvent(name string, at time.Time) {
	s.mu.Lock()
	if ts, ok := s.tasks[name]; ok && at.After(ts.lastEvent) {
		ts.lastEvent = at
	}
	s.mu.Unlock()
}

func (s *Supervisor) noteError(name string, at time.Time) {
	s.mu.Lock()
	if ts, ok := s.tasks[name]; ok {
		ts.errorLog = append(ts.errorLog, at)
		cutoff := s.nowFn().Add(-errorRateWindow)
		for len(ts.errorLog) > 0 && ts.errorLog[0].Before(cutoff) {
			ts.errorLog = ts.errorLog[1:]
		}
	}
	s.mu.Unlock()
}

// errorRate converts the trailing error log to errors per minute.
func errorRate(log []time.Time, now time.Time) float64 {
	cutoff := now.Add(-errorRateWindow)
	count := 0
	for _, at := range log {
		if !at.Before(cutoff) {
			count++
		}
	}
	return float64(count) / errorRateWindow.Minutes()
}
