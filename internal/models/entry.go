package models

import "time"

type QueueEntry struct {
	EntryID            string     `json:"entry_id"`
	BookingID          string     `json:"booking_id,omitempty"`
	PatientID          string     `json:"patient_id"`
	PatientName        string     `json:"patient_name,omitempty"`
	HospitalID         string     `json:"hospital_id"`
	HospitalName       string     `json:"hospital_name,omitempty"`
	Department         string     `json:"department"`
	DoctorID           string     `json:"doctor_id,omitempty"`
	DoctorName         string     `json:"doctor_name,omitempty"`
	QueueNumber        int        `json:"queue_number"`
	Priority           string     `json:"priority"`
	AppointmentType    string     `json:"appointment_type,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	CalledAt           *time.Time `json:"called_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	EstimatedWaitTime  int        `json:"estimated_wait_time"`
	ActualWaitTime     *int       `json:"actual_wait_time,omitempty"`
	Notes              string     `json:"notes,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusCalled     = "called"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Terminal reports whether status permits no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Active reports whether the entry still occupies the live queue.
func Active(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusInProgress:
		return true
	default:
		return false
	}
}

func NormalizePriority(priority string) string {
	switch priority {
	case PriorityUrgent, PriorityHigh:
		return priority
	default:
		return PriorityNormal
	}
}
