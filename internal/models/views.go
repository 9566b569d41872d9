package models

import "time"

// PositionUpdate is the per-patient projection: the entry, its live position
// among waiting entries in its department, and the current estimate. Entry is
// nil once the patient has no active entry in the hospital.
type PositionUpdate struct {
	Entry             *QueueEntry `json:"entry"`
	Position          int         `json:"position"`
	EstimatedWaitTime int         `json:"estimated_wait_time"`
}

type DepartmentSummary struct {
	Department        string `json:"department"`
	ActiveQueueNumber *int   `json:"active_queue_number,omitempty"`
	WaitingCount      int    `json:"waiting_count"`
	TotalToday        int    `json:"total_today"`
	AverageWaitTime   int    `json:"average_wait_time"`
}

type DepartmentStats struct {
	Department      string `json:"department"`
	TotalEntries    int    `json:"total_entries"`
	Completed       int    `json:"completed"`
	Cancelled       int    `json:"cancelled"`
	AverageWaitTime int    `json:"average_wait_time"`
}

type Statistics struct {
	HospitalID      string            `json:"hospital_id"`
	From            time.Time         `json:"from"`
	To              time.Time         `json:"to"`
	TotalEntries    int               `json:"total_entries"`
	Completed       int               `json:"completed"`
	Cancelled       int               `json:"cancelled"`
	AverageWaitTime int               `json:"average_wait_time"`
	Departments     []DepartmentStats `json:"departments"`
}
