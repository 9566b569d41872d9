package store

import "hqms/queue-service/internal/models"

var transitionMap = map[string][]string{
	models.StatusCalled:     {models.StatusWaiting},
	models.StatusInProgress: {models.StatusCalled},
	models.StatusCompleted:  {models.StatusInProgress},
	models.StatusCancelled:  {models.StatusWaiting, models.StatusCalled},
}

// ValidTransition reports whether an entry may move from fromStatus to
// toStatus. Terminal statuses have no outgoing edges.
func ValidTransition(fromStatus, toStatus string) bool {
	allowed, ok := transitionMap[toStatus]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses an entry may hold before moving to
// toStatus. The returned slice must not be mutated.
func AllowedFrom(toStatus string) []string {
	return transitionMap[toStatus]
}
