package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetOrCreateGeneratesID(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	created := store.GetOrCreate("")
	if created.ID == "" {
		t.Fatal("expected a generated session ID")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}

	same := store.GetOrCreate(created.ID)
	if same.ID != created.ID {
		t.Errorf("GetOrCreate returned different session: %s vs %s", same.ID, created.ID)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d after re-fetch, want 1", store.Len())
	}
}

func TestAppendIsAppendOnly(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	created := store.GetOrCreate("")

	turns := []Turn{
		{Role: RoleUser, Content: "what's the weather in Paris?"},
		{Role: RoleAssistant, Content: "Sunny and mild."},
	}
	for _, turn := range turns {
		if err := store.Append(created.ID, turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got := store.GetOrCreate(created.ID)
	if len(got.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(got.Turns))
	}
	for i, turn := range got.Turns {
		if turn.Role != turns[i].Role || turn.Content != turns[i].Content {
			t.Errorf("turn %d = %+v, want %+v", i, turn, turns[i])
		}
		if turn.Timestamp.IsZero() {
			t.Errorf("turn %d has zero timestamp", i)
		}
	}
}

func TestAppendUnknownSession(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	err := store.Append("nope", Turn{Role: RoleUser, Content: "hi"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Append error = %v, want ErrSessionNotFound", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	created := store.GetOrCreate("")
	if err := store.Append(created.ID, Turn{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}},
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	snapshot := store.GetOrCreate(created.ID)
	snapshot.Turns[0].ToolCalls[0].Arguments["city"] = "mutated"

	fresh := store.GetOrCreate(created.ID)
	if city := fresh.Turns[0].ToolCalls[0].Arguments["city"]; city != "Paris" {
		t.Errorf("stored turn mutated through snapshot: city = %v", city)
	}
}

func TestAcquireConflict(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	snapshot, release, err := store.Acquire("")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, _, err := store.Acquire(snapshot.ID); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Acquire error = %v, want ErrSessionBusy", err)
	}

	release()
	_, release2, err := store.Acquire(snapshot.ID)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release2()
}

func TestEvictIdle(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	base := time.Now()
	store.now = func() time.Time { return base }

	idle := store.GetOrCreate("")
	if evicted := store.EvictIdle(base.Add(30 * time.Second)); evicted != 0 {
		t.Errorf("evicted %d sessions before timeout, want 0", evicted)
	}
	if evicted := store.EvictIdle(base.Add(2 * time.Minute)); evicted != 1 {
		t.Errorf("evicted %d sessions after timeout, want 1", evicted)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d after eviction, want 0", store.Len())
	}

	// A fresh session with the evicted ID starts with empty history.
	revived := store.GetOrCreate(idle.ID)
	if len(revived.Turns) != 0 {
		t.Errorf("revived session has %d turns, want 0", len(revived.Turns))
	}
}

func TestEvictIdleSkipsLeased(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	base := time.Now()
	store.now = func() time.Time { return base }

	snapshot, release, err := store.Acquire("")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if evicted := store.EvictIdle(base.Add(time.Hour)); evicted != 0 {
		t.Errorf("evicted %d leased sessions, want 0", evicted)
	}

	// Release moves LastActiveAt forward, so the session survives until a
	// full idle period passes after the request finished.
	release()
	if evicted := store.EvictIdle(base.Add(30 * time.Second)); evicted != 0 {
		t.Errorf("evicted %d sessions right after release, want 0", evicted)
	}
	if evicted := store.EvictIdle(base.Add(2 * time.Minute)); evicted != 1 {
		t.Errorf("evicted %d sessions, want 1", evicted)
	}
	if store.Len() != 0 {
		t.Errorf("session %s still present after eviction", snapshot.ID)
	}
}

func TestAcquireBumpsActivity(t *testing.T) {
	t.Parallel()

	store := NewStore(time.Minute, testLogger())
	current := time.Now()
	store.now = func() time.Time { return current }

	snapshot, release, err := store.Acquire("")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	current = current.Add(45 * time.Second)
	release()

	// Idle clock restarts at release time.
	if evicted := store.EvictIdle(current.Add(59 * time.Second)); evicted != 0 {
		t.Errorf("evicted session %s too early", snapshot.ID)
	}
	if evicted := store.EvictIdle(current.Add(61 * time.Second)); evicted != 1 {
		t.Errorf("evicted %d, want 1", evicted)
	}
}
