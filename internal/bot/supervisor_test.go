package bot

import (
	"context"
	"testing"
	"time"

	"fx-scalper-bot/internal/events"
)

func TestSupervisorStartStop(t *testing.T) {
	bus := events.NewBus()
	s := NewSupervisor(bus)

	running := make(chan struct{})
	s.Register(Task{
		Name: "pinger",
		Run: func(ctx context.Context) {
			close(running)
			<-ctx.Done()
		},
		Backlog: func() int { return 7 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartAll(ctx)

	select {
	case <-running:
	case <-time.After(time.Second):
		t.Fatal("task did not start")
	}
	rows := s.Statuses()
	if len(rows) != 1 || rows[0].State != StateRunning {
		t.Fatalf("statuses = %+v, want one running row", rows)
	}
	if rows[0].Backlog != 7 {
		t.Errorf("backlog = %d, want 7", rows[0].Backlog)
	}

	if err := s.Stop("pinger"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	s.Wait()
	if rows := s.Statuses(); rows[0].State != StateStopped {
		t.Errorf("state after stop = %q, want stopped", rows[0].State)
	}

	if err := s.Start("nope"); err == nil {
		t.Error("starting an unknown task must error")
	}
}

func TestSupervisorTracksErrors(t *testing.T) {
	bus := events.NewBus()
	s := NewSupervisor(bus)
	s.Register(Task{Name: "feed", Run: func(ctx context.Context) { <-ctx.Done() }})

	bus.Publish(events.EventTaskError, map[string]interface{}{"task": "feed", "error": "socket reset"})
	bus.Publish(events.EventTaskError, map[string]interface{}{"task": "feed", "error": "socket reset"})

	rows := s.Statuses()
	if rows[0].ErrorRate <= 0 {
		t.Errorf("error rate = %v, want > 0", rows[0].ErrorRate)
	}
	if rows[0].LastEventTime.IsZero() {
		t.Error("last event time not recorded")
	}
}

func TestSupervisorRecoversPanic(t *testing.T) {
	s := NewSupervisor(events.NewBus())
	s.Register(Task{Name: "bomb", Run: func(context.Context) { panic("boom") }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartAll(ctx)
	s.Wait()

	if rows := s.Statuses(); rows[0].State != StateFailed {
		t.Errorf("state = %q, want failed", rows[0].State)
	}
}
