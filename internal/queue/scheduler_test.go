package queue

import (
	"testing"
	"time"

	"hqms/queue-service/internal/models"
)

func waiting(id string, number int, priority string) models.QueueEntry {
	return models.QueueEntry{
		EntryID:     id,
		QueueNumber: number,
		Priority:    priority,
		Status:      models.StatusWaiting,
	}
}

func TestSelectNextPrefersUrgentOverEarlierNormal(t *testing.T) {
	entries := []models.QueueEntry{
		waiting("a", 1, models.PriorityNormal),
		waiting("b", 2, models.PriorityNormal),
		waiting("c", 3, models.PriorityUrgent),
	}

	next := SelectNext(entries)
	if next == nil {
		t.Fatal("expected an entry")
	}
	if next.EntryID != "c" {
		t.Fatalf("expected urgent entry c, got %s", next.EntryID)
	}
}

func TestSelectNextOrdersByQueueNumberWithinTier(t *testing.T) {
	entries := []models.QueueEntry{
		waiting("b", 7, models.PriorityHigh),
		waiting("a", 4, models.PriorityHigh),
		waiting("c", 9, models.PriorityNormal),
	}

	next := SelectNext(entries)
	if next == nil || next.EntryID != "a" {
		t.Fatalf("expected entry a, got %+v", next)
	}
}

func TestSelectNextBreaksEqualNumbersByArrival(t *testing.T) {
	yesterday := waiting("carried", 1, models.PriorityNormal)
	yesterday.CreatedAt = time.Date(2026, 3, 9, 16, 0, 0, 0, time.UTC)
	today := waiting("fresh", 1, models.PriorityNormal)
	today.CreatedAt = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	next := SelectNext([]models.QueueEntry{today, yesterday})
	if next == nil || next.EntryID != "carried" {
		t.Fatalf("expected carried-over entry first, got %+v", next)
	}

	ordered := Order([]models.QueueEntry{today, yesterday})
	if ordered[0].EntryID != "carried" || ordered[1].EntryID != "fresh" {
		t.Fatalf("unexpected order: %s, %s", ordered[0].EntryID, ordered[1].EntryID)
	}
}

func TestSelectNextSkipsNonWaiting(t *testing.T) {
	called := waiting("a", 1, models.PriorityUrgent)
	called.Status = models.StatusCalled
	entries := []models.QueueEntry{
		called,
		waiting("b", 2, models.PriorityNormal),
	}

	next := SelectNext(entries)
	if next == nil || next.EntryID != "b" {
		t.Fatalf("expected entry b, got %+v", next)
	}
}

func TestSelectNextEmpty(t *testing.T) {
	if next := SelectNext(nil); next != nil {
		t.Fatalf("expected nil, got %+v", next)
	}
	done := waiting("a", 1, models.PriorityNormal)
	done.Status = models.StatusCompleted
	if next := SelectNext([]models.QueueEntry{done}); next != nil {
		t.Fatalf("expected nil, got %+v", next)
	}
}

func TestSelectNextDeterministicForEqualKeys(t *testing.T) {
	entries := []models.QueueEntry{
		waiting("a", 2, models.PriorityNormal),
		waiting("b", 1, models.PriorityNormal),
	}
	for i := 0; i < 10; i++ {
		next := SelectNext(entries)
		if next == nil || next.EntryID != "b" {
			t.Fatalf("run %d: expected entry b, got %+v", i, next)
		}
	}
}

func TestPosition(t *testing.T) {
	scope := []models.QueueEntry{
		waiting("a", 1, models.PriorityNormal),
		waiting("b", 2, models.PriorityNormal),
		waiting("c", 3, models.PriorityUrgent),
		waiting("d", 4, models.PriorityNormal),
	}

	cases := []struct {
		entryID string
		want    int
	}{
		{"c", 1},
		{"a", 2},
		{"b", 3},
		{"d", 4},
	}
	for _, tc := range cases {
		var entry models.QueueEntry
		for _, e := range scope {
			if e.EntryID == tc.entryID {
				entry = e
			}
		}
		if got := Position(entry, scope); got != tc.want {
			t.Fatalf("position of %s = %d, want %d", tc.entryID, got, tc.want)
		}
	}
}

func TestPositionIgnoresNonWaiting(t *testing.T) {
	called := waiting("a", 1, models.PriorityUrgent)
	called.Status = models.StatusCalled
	scope := []models.QueueEntry{
		called,
		waiting("b", 2, models.PriorityNormal),
	}
	if got := Position(scope[1], scope); got != 1 {
		t.Fatalf("position = %d, want 1", got)
	}
}

func TestOrderMatchesCallNextOrder(t *testing.T) {
	entries := []models.QueueEntry{
		waiting("n1", 1, models.PriorityNormal),
		waiting("u3", 3, models.PriorityUrgent),
		waiting("h2", 2, models.PriorityHigh),
		waiting("n4", 4, models.PriorityNormal),
	}

	ordered := Order(entries)
	want := []string{"u3", "h2", "n1", "n4"}
	for i, id := range want {
		if ordered[i].EntryID != id {
			t.Fatalf("ordered[%d] = %s, want %s", i, ordered[i].EntryID, id)
		}
	}
	// input untouched
	if entries[0].EntryID != "n1" {
		t.Fatal("Order mutated its input")
	}
}
