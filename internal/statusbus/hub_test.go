package statusbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"narrate/internal/store"
)

func TestHubFetchFiltersByProject(t *testing.T) {
	hub := NewHub(10)
	hub.Publish(1, store.JobStatus{State: store.StateGenerating, Progress: 0})
	hub.Publish(2, store.JobStatus{State: store.StateGenerating, Progress: 5})
	hub.Publish(1, store.JobStatus{State: store.StateGenerating, Progress: 10})

	events, cursor, err := hub.Fetch(context.Background(), 0, 1, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 || events[0].Status.Progress != 0 || events[1].Status.Progress != 10 {
		t.Fatalf("unexpected events %+v", events)
	}
	if cursor != 3 {
		t.Fatalf("expected cursor 3, got %d", cursor)
	}

	all, _, _ := hub.Fetch(context.Background(), 1, 0, false)
	if len(all) != 2 {
		t.Fatalf("expected events after seq 1 across projects, got %d", len(all))
	}
}

func TestHubEvictsOldest(t *testing.T) {
	hub := NewHub(2)
	for i := 0; i < 3; i++ {
		hub.Publish(1, store.JobStatus{Progress: i * 10})
	}
	events, _, _ := hub.Fetch(context.Background(), 0, 0, false)
	if len(events) != 2 || events[0].Sequence != 2 {
		t.Fatalf("expected two newest events, got %+v", events)
	}
	latest, ok := hub.Latest(1)
	if !ok || latest.Status.Progress != 20 {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestHubFetchWaitsForMatchingEvent(t *testing.T) {
	hub := NewHub(10)
	cursor := hub.Cursor()
	done := make(chan []Event, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), cursor, 7, true)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(8, store.JobStatus{Progress: 1})
	select {
	case <-done:
		t.Fatal("waiter woke for another project")
	case <-time.After(20 * time.Millisecond):
	}

	hub.Publish(7, store.JobStatus{State: store.StateCompleted, Progress: 100})
	select {
	case events := <-done:
		if len(events) != 1 || events[0].Status.State != store.StateCompleted {
			t.Fatalf("unexpected events %+v", events)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestHubFetchHonoursContext(t *testing.T) {
	hub := NewHub(10)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, _, err := hub.Fetch(ctx, 0, 1, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestNilHubIsSafe(t *testing.T) {
	var hub *Hub
	hub.Publish(1, store.JobStatus{})
	if _, ok := hub.Latest(1); ok {
		t.Fatal("nil hub should have no events")
	}
	if events, _, err := hub.Fetch(context.Background(), 0, 0, true); err != nil || events != nil {
		t.Fatalf("nil hub Fetch = %v, %v", events, err)
	}
}
