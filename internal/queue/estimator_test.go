package queue

import (
	"testing"

	"hqms/queue-service/internal/models"
)

func TestEstimateUsesDepartmentBaseline(t *testing.T) {
	estimator := NewEstimator(nil, 0)

	cases := []struct {
		department string
		position   int
		want       int
	}{
		{"Cardiology", 1, 25},
		{"Cardiology", 2, 30},
		{"Cardiology", 3, 35},
		{"cardiology", 2, 30},
		{"General Medicine", 1, 15},
		{"Emergency", 4, 25},
		{"Radiology", 1, 20},
		{"Radiology", 3, 30},
	}
	for _, tc := range cases {
		if got := estimator.Estimate(tc.department, tc.position); got != tc.want {
			t.Fatalf("Estimate(%q, %d) = %d, want %d", tc.department, tc.position, got, tc.want)
		}
	}
}

func TestEstimateClampsPosition(t *testing.T) {
	estimator := NewEstimator(nil, 0)
	if got := estimator.Estimate("Cardiology", 0); got != 25 {
		t.Fatalf("Estimate at position 0 = %d, want 25", got)
	}
}

func TestEstimatorOverrides(t *testing.T) {
	estimator := NewEstimator(map[string]int{"Cardiology": 40, "Oncology": 35}, 10)
	if got := estimator.Estimate("cardiology", 2); got != 50 {
		t.Fatalf("Estimate = %d, want 50", got)
	}
	if got := estimator.Estimate("Oncology", 1); got != 35 {
		t.Fatalf("Estimate = %d, want 35", got)
	}
	if got := estimator.Estimate("Pediatrics", 1); got != 20 {
		t.Fatalf("default table should survive overrides, got %d", got)
	}
}

func TestAverageWaitOverCompletedEntries(t *testing.T) {
	estimator := NewEstimator(nil, 0)
	minutes := func(m int) *int { return &m }
	entries := []models.QueueEntry{
		{Status: models.StatusCompleted, ActualWaitTime: minutes(10)},
		{Status: models.StatusCompleted, ActualWaitTime: minutes(21)},
		{Status: models.StatusWaiting},
		{Status: models.StatusCancelled, ActualWaitTime: minutes(90)},
	}

	if got := estimator.AverageWait("Cardiology", entries); got != 16 {
		t.Fatalf("AverageWait = %d, want 16", got)
	}
}

func TestAverageWaitFallsBackToBaseline(t *testing.T) {
	estimator := NewEstimator(nil, 0)
	if got := estimator.AverageWait("Cardiology", nil); got != 25 {
		t.Fatalf("AverageWait = %d, want baseline 25", got)
	}
	if got := estimator.AverageWait("Radiology", nil); got != 20 {
		t.Fatalf("AverageWait = %d, want default 20", got)
	}
}
