package store

import (
	"context"
	"encoding/json"
	"time"

	"hqms/queue-service/internal/models"
)

type CreateEntryInput struct {
	PatientID       string
	PatientName     string
	HospitalID      string
	HospitalName    string
	Department      string
	DoctorID        string
	DoctorName      string
	AppointmentType string
	Priority        string
	BookingID       string
	Notes           string
	EstimatedWait   int
	CreatedAt       time.Time
}

type CallNextInput struct {
	HospitalID string
	Department string
	CalledAt   time.Time
}

type TransitionInput struct {
	EntryID    string
	ToStatus   string
	Notes      string
	Reason     string
	OccurredAt time.Time
}

// EntryStore is the persistence contract for the queue engine. Both the
// Postgres adapter and the in-memory adapter implement it; every mutation is
// atomic with respect to concurrent callers in the same scope.
type EntryStore interface {
	// CreateEntry allocates the next queue number for the entry's scope-day
	// and inserts the entry in waiting state. When BookingID is set and an
	// entry for it already exists, the existing entry is returned with
	// created=false.
	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, bool, error)
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error)
	FindByBooking(ctx context.Context, bookingID string) (models.QueueEntry, bool, error)

	// CallNext atomically picks the highest-priority waiting entry in the
	// scope and transitions it to called. found=false on an empty scope.
	CallNext(ctx context.Context, input CallNextInput) (models.QueueEntry, bool, error)
	// Transition applies the state machine; the status check and the write
	// happen in one atomic operation.
	Transition(ctx context.Context, input TransitionInput) (models.QueueEntry, error)

	ListWaiting(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error)
	ListActive(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error)
	ListPatientEntries(ctx context.Context, patientID, hospitalID string) ([]models.QueueEntry, error)
	UpdateEstimates(ctx context.Context, estimates map[string]int) error

	DepartmentSummaries(ctx context.Context, hospitalID string, dayStart, dayEnd time.Time) ([]models.DepartmentSummary, error)
	GetStatistics(ctx context.Context, hospitalID string, from, to time.Time) (models.Statistics, error)

	ListConfirmedBookings(ctx context.Context, dayStart, dayEnd time.Time) ([]models.Booking, error)

	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
