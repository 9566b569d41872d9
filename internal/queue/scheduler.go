package queue

import (
	"sort"

	"hqms/queue-service/internal/models"
)

// PriorityRank maps a priority tier to its scheduling rank; lower ranks are
// served first. Unknown tiers rank as normal.
func PriorityRank(priority string) int {
	switch priority {
	case models.PriorityUrgent:
		return 0
	case models.PriorityHigh:
		return 1
	default:
		return 2
	}
}

func scheduledBefore(a, b models.QueueEntry) bool {
	ra, rb := PriorityRank(a.Priority), PriorityRank(b.Priority)
	if ra != rb {
		return ra < rb
	}
	if a.QueueNumber != b.QueueNumber {
		return a.QueueNumber < b.QueueNumber
	}
	// Equal numbers happen when waiting entries carry over a day boundary.
	return a.CreatedAt.Before(b.CreatedAt)
}

// SelectNext returns the waiting entry that should be called next, ordered by
// priority rank, then queue number, then arrival time. It does not mutate its input and
// returns nil for an empty or fully non-waiting slice.
func SelectNext(entries []models.QueueEntry) *models.QueueEntry {
	var next *models.QueueEntry
	for i := range entries {
		if entries[i].Status != models.StatusWaiting {
			continue
		}
		if next == nil || scheduledBefore(entries[i], *next) {
			next = &entries[i]
		}
	}
	if next == nil {
		return nil
	}
	picked := *next
	return &picked
}

// Position returns the 1-based live position of entry among the waiting
// entries of its scope: one more than the count of entries ordered strictly
// before it by the scheduling key.
func Position(entry models.QueueEntry, scope []models.QueueEntry) int {
	position := 1
	for _, other := range scope {
		if other.Status != models.StatusWaiting || other.EntryID == entry.EntryID {
			continue
		}
		if scheduledBefore(other, entry) {
			position++
		}
	}
	return position
}

// Order sorts a copy of entries by the scheduling key. Used for the
// department live list so the view order matches call-next order.
func Order(entries []models.QueueEntry) []models.QueueEntry {
	ordered := make([]models.QueueEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return scheduledBefore(ordered[i], ordered[j])
	})
	return ordered
}
