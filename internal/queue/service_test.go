package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"hqms/queue-service/internal/models"
	"hqms/queue-service/internal/queue"
	"hqms/queue-service/internal/store"
	"hqms/queue-service/internal/store/memory"
)

type captureNotifier struct {
	events chan models.QueueEntry
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{events: make(chan models.QueueEntry, 32)}
}

func (n *captureNotifier) Dispatch(ctx context.Context, entry models.QueueEntry) {
	select {
	case n.events <- entry:
	default:
	}
}

func newTestService(t *testing.T) (*queue.Service, *memory.Store, *captureNotifier) {
	t.Helper()
	entryStore := memory.NewStore(time.UTC)
	notifier := newCaptureNotifier()
	service := queue.NewService(entryStore, queue.NewEstimator(nil, 0), nil, notifier, time.UTC)
	return service, entryStore, notifier
}

func checkIn(t *testing.T, service *queue.Service, patientID, priority string) models.QueueEntry {
	t.Helper()
	entry, err := service.CheckIn(context.Background(), queue.CheckInInput{
		PatientID:  patientID,
		HospitalID: "hosp-1",
		Department: "Cardiology",
		Priority:   priority,
	})
	if err != nil {
		t.Fatalf("check in %s: %v", patientID, err)
	}
	return entry
}

func waitForNotification(t *testing.T, notifier *captureNotifier, status string) models.QueueEntry {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case entry := <-notifier.events:
			if entry.Status == status {
				return entry
			}
		case <-deadline:
			t.Fatalf("no %s notification", status)
		}
	}
}

func TestCheckInComputesPositionEstimate(t *testing.T) {
	service, _, _ := newTestService(t)

	first := checkIn(t, service, "p1", models.PriorityNormal)
	second := checkIn(t, service, "p2", models.PriorityNormal)

	if first.EstimatedWaitTime != 25 {
		t.Fatalf("first estimate = %d, want 25", first.EstimatedWaitTime)
	}
	if second.EstimatedWaitTime != 30 {
		t.Fatalf("second estimate = %d, want 30", second.EstimatedWaitTime)
	}
}

func TestUrgentArrivalReshufflesEstimates(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	normal := checkIn(t, service, "p1", models.PriorityNormal)
	urgent := checkIn(t, service, "p2", models.PriorityUrgent)

	if urgent.EstimatedWaitTime != 25 {
		t.Fatalf("urgent estimate = %d, want 25", urgent.EstimatedWaitTime)
	}
	refreshed, err := service.GetEntry(ctx, normal.EntryID)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.EstimatedWaitTime != 30 {
		t.Fatalf("displaced normal estimate = %d, want 30", refreshed.EstimatedWaitTime)
	}
}

func TestCallNextRecomputesRemainingEstimates(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	first := checkIn(t, service, "p1", models.PriorityNormal)
	second := checkIn(t, service, "p2", models.PriorityNormal)
	third := checkIn(t, service, "p3", models.PriorityNormal)

	called, err := service.CallNext(ctx, "hosp-1", "Cardiology")
	if err != nil {
		t.Fatal(err)
	}
	if called == nil || called.EntryID != first.EntryID {
		t.Fatalf("called = %+v, want entry %s", called, first.EntryID)
	}
	if called.Status != models.StatusCalled {
		t.Fatalf("status = %s", called.Status)
	}

	refreshed, _ := service.GetEntry(ctx, second.EntryID)
	if refreshed.EstimatedWaitTime != 25 {
		t.Fatalf("second estimate after call = %d, want 25", refreshed.EstimatedWaitTime)
	}
	refreshed, _ = service.GetEntry(ctx, third.EntryID)
	if refreshed.EstimatedWaitTime != 30 {
		t.Fatalf("third estimate after call = %d, want 30", refreshed.EstimatedWaitTime)
	}
}

func TestCallNextEmptyScope(t *testing.T) {
	service, _, _ := newTestService(t)

	called, err := service.CallNext(context.Background(), "hosp-1", "Cardiology")
	if err != nil {
		t.Fatal(err)
	}
	if called != nil {
		t.Fatalf("expected nil entry, got %+v", called)
	}
}

func TestCancelRecomputesEstimates(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	first := checkIn(t, service, "p1", models.PriorityNormal)
	second := checkIn(t, service, "p2", models.PriorityNormal)

	if err := service.Cancel(ctx, first.EntryID, "patient left"); err != nil {
		t.Fatal(err)
	}

	cancelled, _ := service.GetEntry(ctx, first.EntryID)
	if cancelled.Status != models.StatusCancelled || cancelled.CancellationReason != "patient left" {
		t.Fatalf("cancelled state: %+v", cancelled)
	}
	refreshed, _ := service.GetEntry(ctx, second.EntryID)
	if refreshed.EstimatedWaitTime != 25 {
		t.Fatalf("estimate after cancel = %d, want 25", refreshed.EstimatedWaitTime)
	}
}

func TestTransitionInvalidPropagates(t *testing.T) {
	service, _, _ := newTestService(t)

	entry := checkIn(t, service, "p1", models.PriorityNormal)
	err := service.Transition(context.Background(), entry.EntryID, models.StatusCompleted, "")
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPatientPosition(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	checkIn(t, service, "p1", models.PriorityNormal)
	checkIn(t, service, "p2", models.PriorityNormal)

	update, err := service.PatientPosition(ctx, "p2", "hosp-1")
	if err != nil {
		t.Fatal(err)
	}
	if update.Entry == nil {
		t.Fatal("expected an active entry")
	}
	if update.Position != 2 {
		t.Fatalf("position = %d, want 2", update.Position)
	}
	if update.EstimatedWaitTime != 30 {
		t.Fatalf("estimate = %d, want 30", update.EstimatedWaitTime)
	}

	update, err = service.PatientPosition(ctx, "ghost", "hosp-1")
	if err != nil {
		t.Fatal(err)
	}
	if update.Entry != nil {
		t.Fatalf("expected nil entry, got %+v", update.Entry)
	}
}

func TestHospitalSummaryFallsBackToBaseline(t *testing.T) {
	service, _, _ := newTestService(t)

	checkIn(t, service, "p1", models.PriorityNormal)

	summaries, err := service.HospitalSummary(context.Background(), "hosp-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	// no completed entries yet, so the department baseline stands in
	if summaries[0].AverageWaitTime != 25 {
		t.Fatalf("average = %d, want baseline 25", summaries[0].AverageWaitTime)
	}
}

func TestMaterializeTodayIdempotent(t *testing.T) {
	service, entryStore, _ := newTestService(t)
	ctx := context.Background()

	today := time.Now().UTC()
	entryStore.AddBooking(models.Booking{
		BookingID:       "b1",
		PatientID:       "p1",
		HospitalID:      "hosp-1",
		Department:      "Cardiology",
		Urgency:         "urgent",
		AppointmentDate: today,
		Status:          models.BookingStatusConfirmed,
	})
	entryStore.AddBooking(models.Booking{
		BookingID:       "b2",
		PatientID:       "p2",
		HospitalID:      "hosp-1",
		Department:      "Cardiology",
		AppointmentDate: today,
		Status:          models.BookingStatusConfirmed,
	})
	entryStore.AddBooking(models.Booking{
		BookingID:       "b3",
		PatientID:       "p3",
		HospitalID:      "hosp-1",
		Department:      "Cardiology",
		AppointmentDate: today,
		Status:          "pending",
	})

	created, err := service.MaterializeToday(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 {
		t.Fatalf("created = %d, want 2", created)
	}

	created, err = service.MaterializeToday(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Fatalf("second run created = %d, want 0", created)
	}

	entry, found, err := entryStore.FindByBooking(ctx, "b1")
	if err != nil || !found {
		t.Fatalf("booking b1 entry: found=%v err=%v", found, err)
	}
	if entry.Priority != models.PriorityUrgent {
		t.Fatalf("priority = %s, want urgent", entry.Priority)
	}
}

func TestNotificationsDispatchedOnStatusChanges(t *testing.T) {
	service, _, notifier := newTestService(t)
	ctx := context.Background()

	checkIn(t, service, "p1", models.PriorityNormal)
	waitForNotification(t, notifier, models.StatusWaiting)

	if _, err := service.CallNext(ctx, "hosp-1", "Cardiology"); err != nil {
		t.Fatal(err)
	}
	called := waitForNotification(t, notifier, models.StatusCalled)
	if called.PatientID != "p1" {
		t.Fatalf("notified patient = %s", called.PatientID)
	}
}

func TestSubscribeDepartmentQueue(t *testing.T) {
	service, _, _ := newTestService(t)

	checkIn(t, service, "p1", models.PriorityNormal)

	updates, cancel := service.SubscribeDepartmentQueue("hosp-1", "Cardiology")
	defer cancel()

	snapshot := recvEntries(t, updates)
	if len(snapshot) != 1 || snapshot[0].PatientID != "p1" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	checkIn(t, service, "p2", models.PriorityUrgent)

	var latest []models.QueueEntry
	deadline := time.After(2 * time.Second)
	for len(latest) != 2 {
		select {
		case entries, ok := <-updates:
			if !ok {
				t.Fatal("stream closed early")
			}
			latest = entries
		case <-deadline:
			t.Fatalf("never saw both entries, last update: %+v", latest)
		}
	}
	// urgent entry leads the live list
	if latest[0].PatientID != "p2" {
		t.Fatalf("live list head = %s, want p2", latest[0].PatientID)
	}
}

func TestSubscribePatientPosition(t *testing.T) {
	service, _, _ := newTestService(t)

	updates, cancel := service.SubscribePatientPosition("p2", "hosp-1")
	defer cancel()

	initial := recvPosition(t, updates)
	if initial.Entry != nil {
		t.Fatalf("expected empty initial position, got %+v", initial.Entry)
	}

	checkIn(t, service, "p1", models.PriorityNormal)
	checkIn(t, service, "p2", models.PriorityNormal)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				t.Fatal("stream closed early")
			}
			if update.Entry != nil && update.Position == 2 {
				return
			}
		case <-deadline:
			t.Fatal("never saw position 2")
		}
	}
}

func TestSubscribeCancelClosesStream(t *testing.T) {
	service, _, _ := newTestService(t)

	updates, cancel := service.SubscribeDepartmentQueue("hosp-1", "Cardiology")
	recvEntries(t, updates)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancel")
		}
	}
}

func recvEntries(t *testing.T, updates <-chan []models.QueueEntry) []models.QueueEntry {
	t.Helper()
	select {
	case entries := <-updates:
		return entries
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue update")
		return nil
	}
}

func recvPosition(t *testing.T, updates <-chan models.PositionUpdate) models.PositionUpdate {
	t.Helper()
	select {
	case update := <-updates:
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for position update")
		return models.PositionUpdate{}
	}
}
