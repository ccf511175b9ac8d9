package event_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/store/memory"
)

func TestPublishSubscribeAck(t *testing.T) {
	t.Parallel()
	bus := event.NewBus(memory.New())
	ctx := context.Background()

	jobID := id.NewJobID()
	expires := time.Now().UTC().Add(time.Minute)
	err := bus.Publish(ctx, event.JobLocked{
		Envelope:      event.NewEnvelope(jobID, "locked"),
		LockExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	evt, err := bus.Subscribe(ctx, "job:locked", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if evt == nil {
		t.Fatal("Subscribe returned nil, want published event")
	}
	if evt.Name != "job:locked" {
		t.Errorf("Name = %q, want job:locked", evt.Name)
	}

	var payload event.JobLocked
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.JobID.String() != jobID.String() {
		t.Errorf("JobID = %s, want %s", payload.JobID, jobID)
	}
	if !payload.LockExpiresAt.Equal(expires) {
		t.Errorf("LockExpiresAt = %v, want %v", payload.LockExpiresAt, expires)
	}

	if err := bus.Ack(ctx, evt.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	again, err := bus.Subscribe(ctx, "job:locked", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe after ack: %v", err)
	}
	if again != nil {
		t.Errorf("got %+v after ack, want nil", again)
	}
}

func TestSubscribeFiltersByName(t *testing.T) {
	t.Parallel()
	bus := event.NewBus(memory.New())
	ctx := context.Background()

	err := bus.Publish(ctx, event.JobDispatching{
		Envelope: event.NewEnvelope(id.NewJobID(), "dispatching"),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	evt, err := bus.Subscribe(ctx, "job:locked", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if evt != nil {
		t.Errorf("got %+v for unrelated name, want nil", evt)
	}
}

func TestEventNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload event.Payload
		want    string
	}{
		{event.JobDispatching{}, "job:dispatching"},
		{event.JobLocked{}, "job:locked"},
		{event.JobUnlocked{}, "job:unlocked"},
		{event.JobFailed{}, "job:failed"},
		{event.JobExpired{}, "job:expired"},
		{event.StudentPing{}, "student:ping"},
		{event.LockAssigned{}, "student:lock_assigned"},
		{event.LockReleased{}, "student:lock_released"},
		{event.StudentAssigned{}, "employer:student_assigned"},
	}
	for _, tt := range tests {
		if got := tt.payload.EventName(); got != tt.want {
			t.Errorf("EventName() = %q, want %q", got, tt.want)
		}
	}
}
