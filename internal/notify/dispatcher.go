package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"hqms/queue-service/internal/models"
)

// Event is what the dispatcher hands to a provider when an entry changes
// status.
type Event struct {
	PatientID         string `json:"patient_id"`
	HospitalName      string `json:"hospital_name"`
	Department        string `json:"department"`
	QueueNumber       int    `json:"queue_number"`
	Status            string `json:"status"`
	EstimatedWaitTime int    `json:"estimated_wait_time"`
}

// Dispatcher sends status-change notifications best-effort. Provider
// failures are logged and swallowed; nothing propagates back into queue
// state.
type Dispatcher struct {
	provider Provider
	timeout  time.Duration
}

type Config struct {
	Provider    string
	SendTimeout time.Duration
}

func NewDispatcher(cfg Config) *Dispatcher {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		provider: newProvider(cfg.Provider),
		timeout:  timeout,
	}
}

// Dispatch builds the event for the entry and sends it. Always safe to call
// from a goroutine; errors never escape.
func (d *Dispatcher) Dispatch(ctx context.Context, entry models.QueueEntry) {
	if entry.PatientID == "" {
		return
	}
	event := Event{
		PatientID:         entry.PatientID,
		HospitalName:      entry.HospitalName,
		Department:        entry.Department,
		QueueNumber:       entry.QueueNumber,
		Status:            entry.Status,
		EstimatedWaitTime: entry.EstimatedWaitTime,
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.provider.Send(sendCtx, event); err != nil {
		log.Printf("notify send failed patient=%s status=%s: %v", event.PatientID, event.Status, err)
	}
}

func renderMessage(event Event) string {
	switch event.Status {
	case models.StatusWaiting:
		return fmt.Sprintf("Queue number %d registered for %s, %s. Estimated wait %d minutes.", event.QueueNumber, event.Department, event.HospitalName, event.EstimatedWaitTime)
	case models.StatusCalled:
		return fmt.Sprintf("Queue number %d: please proceed to %s, %s.", event.QueueNumber, event.Department, event.HospitalName)
	case models.StatusInProgress:
		return fmt.Sprintf("Queue number %d is now being seen at %s.", event.QueueNumber, event.Department)
	case models.StatusCompleted:
		return fmt.Sprintf("Visit for queue number %d at %s is complete.", event.QueueNumber, event.Department)
	case models.StatusCancelled:
		return fmt.Sprintf("Queue number %d at %s was cancelled.", event.QueueNumber, event.Department)
	default:
		return fmt.Sprintf("Queue number %d status: %s.", event.QueueNumber, event.Status)
	}
}
