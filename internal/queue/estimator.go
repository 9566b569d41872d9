package queue

import (
	"strings"

	"hqms/queue-service/internal/models"
)

const (
	defaultBaseWaitMinutes   = 20
	defaultPerPatientMinutes = 5
)

// defaultBaseWait holds per-department consultation baselines in minutes.
// Departments are matched case-insensitively; anything unknown falls back to
// defaultBaseWaitMinutes.
var defaultBaseWait = map[string]int{
	"general medicine": 15,
	"cardiology":       25,
	"orthopedics":      30,
	"pediatrics":       20,
	"dermatology":      15,
	"neurology":        30,
	"emergency":        10,
}

type Estimator struct {
	base       map[string]int
	perPatient int
}

// NewEstimator builds an estimator from the default department table merged
// with overrides. perPatient <= 0 selects the default of 5 minutes.
func NewEstimator(overrides map[string]int, perPatient int) *Estimator {
	base := make(map[string]int, len(defaultBaseWait)+len(overrides))
	for dept, minutes := range defaultBaseWait {
		base[dept] = minutes
	}
	for dept, minutes := range overrides {
		if minutes > 0 {
			base[strings.ToLower(strings.TrimSpace(dept))] = minutes
		}
	}
	if perPatient <= 0 {
		perPatient = defaultPerPatientMinutes
	}
	return &Estimator{base: base, perPatient: perPatient}
}

func (e *Estimator) BaseWait(department string) int {
	if minutes, ok := e.base[strings.ToLower(strings.TrimSpace(department))]; ok {
		return minutes
	}
	return defaultBaseWaitMinutes
}

// Estimate returns the expected wait in minutes for the given 1-based
// position in a department queue.
func (e *Estimator) Estimate(department string, position int) int {
	if position < 1 {
		position = 1
	}
	return e.BaseWait(department) + (position-1)*e.perPatient
}

// AverageWait returns the mean actual wait over completed entries, rounded to
// whole minutes. With no completed entries it falls back to the department
// baseline so fresh scopes never report zero.
func (e *Estimator) AverageWait(department string, entries []models.QueueEntry) int {
	total := 0
	count := 0
	for _, entry := range entries {
		if entry.Status != models.StatusCompleted || entry.ActualWaitTime == nil {
			continue
		}
		total += *entry.ActualWaitTime
		count++
	}
	if count == 0 {
		return e.BaseWait(department)
	}
	return (total + count/2) / count
}
