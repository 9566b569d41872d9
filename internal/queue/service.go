package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hqms/queue-service/internal/hub"
	"hqms/queue-service/internal/models"
	"hqms/queue-service/internal/store"
)

// Notifier receives every successful status change. Implementations must be
// best-effort: the service invokes Dispatch on its own goroutine and never
// inspects an outcome.
type Notifier interface {
	Dispatch(ctx context.Context, entry models.QueueEntry)
}

type CheckInInput struct {
	PatientID       string
	PatientName     string
	HospitalID      string
	HospitalName    string
	Department      string
	DoctorID        string
	DoctorName      string
	AppointmentType string
	Priority        string
	Notes           string
	BookingID       string
}

// API is the operation surface the HTTP layer and scheduled jobs consume.
type API interface {
	CheckIn(ctx context.Context, input CheckInInput) (models.QueueEntry, error)
	CallNext(ctx context.Context, hospitalID, department string) (*models.QueueEntry, error)
	Transition(ctx context.Context, entryID, toStatus, notes string) error
	Cancel(ctx context.Context, entryID, reason string) error
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error)
	DepartmentQueue(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error)
	PatientPosition(ctx context.Context, patientID, hospitalID string) (models.PositionUpdate, error)
	HospitalSummary(ctx context.Context, hospitalID string) ([]models.DepartmentSummary, error)
	GetStatistics(ctx context.Context, hospitalID string, from, to time.Time) (models.Statistics, error)
	MaterializeToday(ctx context.Context) (int, error)
	SubscribeDepartmentQueue(hospitalID, department string) (<-chan []models.QueueEntry, func())
	SubscribePatientPosition(patientID, hospitalID string) (<-chan models.PositionUpdate, func())
	ListEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
}

type Service struct {
	store     store.EntryStore
	estimator *Estimator
	hub       *hub.Hub
	notifier  Notifier
	loc       *time.Location
	now       func() time.Time
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, models.QueueEntry) {}

func NewService(entryStore store.EntryStore, estimator *Estimator, h *hub.Hub, notifier Notifier, loc *time.Location) *Service {
	if estimator == nil {
		estimator = NewEstimator(nil, 0)
	}
	if h == nil {
		h = hub.New()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:     entryStore,
		estimator: estimator,
		hub:       h,
		notifier:  notifier,
		loc:       loc,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CheckIn(ctx context.Context, input CheckInInput) (models.QueueEntry, error) {
	entry, created, err := s.store.CreateEntry(ctx, store.CreateEntryInput{
		PatientID:       input.PatientID,
		PatientName:     input.PatientName,
		HospitalID:      input.HospitalID,
		HospitalName:    input.HospitalName,
		Department:      input.Department,
		DoctorID:        input.DoctorID,
		DoctorName:      input.DoctorName,
		AppointmentType: input.AppointmentType,
		Priority:        models.NormalizePriority(input.Priority),
		BookingID:       input.BookingID,
		Notes:           input.Notes,
		EstimatedWait:   s.estimator.BaseWait(input.Department),
		CreatedAt:       s.now(),
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !created {
		return entry, nil
	}

	estimates, err := s.refreshScope(ctx, entry.HospitalID, entry.Department)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if minutes, ok := estimates[entry.EntryID]; ok {
		entry.EstimatedWaitTime = minutes
	}
	go s.notifier.Dispatch(context.Background(), entry)
	return entry, nil
}

func (s *Service) CallNext(ctx context.Context, hospitalID, department string) (*models.QueueEntry, error) {
	entry, found, err := s.store.CallNext(ctx, store.CallNextInput{
		HospitalID: hospitalID,
		Department: department,
		CalledAt:   s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if _, err := s.refreshScope(ctx, hospitalID, department); err != nil {
		return nil, err
	}
	go s.notifier.Dispatch(context.Background(), entry)
	return &entry, nil
}

func (s *Service) Transition(ctx context.Context, entryID, toStatus, notes string) error {
	_, err := s.transition(ctx, store.TransitionInput{
		EntryID:    entryID,
		ToStatus:   toStatus,
		Notes:      notes,
		OccurredAt: s.now(),
	})
	return err
}

func (s *Service) Cancel(ctx context.Context, entryID, reason string) error {
	_, err := s.transition(ctx, store.TransitionInput{
		EntryID:    entryID,
		ToStatus:   models.StatusCancelled,
		Reason:     reason,
		OccurredAt: s.now(),
	})
	return err
}

func (s *Service) transition(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	entry, err := s.store.Transition(ctx, input)
	if err != nil {
		return models.QueueEntry{}, err
	}
	// Leaving waiting shifts everyone's position; other transitions only
	// change the live list.
	leftWaiting := input.ToStatus == models.StatusCalled ||
		(input.ToStatus == models.StatusCancelled && entry.CalledAt == nil)
	if leftWaiting {
		if _, err := s.refreshScope(ctx, entry.HospitalID, entry.Department); err != nil {
			return models.QueueEntry{}, err
		}
	} else {
		if err := s.broadcastScope(ctx, entry.HospitalID, entry.Department); err != nil {
			return models.QueueEntry{}, err
		}
	}
	go s.notifier.Dispatch(context.Background(), entry)
	return entry, nil
}

// refreshScope recomputes estimatedWaitTime for every waiting entry in the
// scope from its current scheduling position, persists the estimates, and
// pushes the updated live list to subscribers.
func (s *Service) refreshScope(ctx context.Context, hospitalID, department string) (map[string]int, error) {
	waiting, err := s.store.ListWaiting(ctx, hospitalID, department)
	if err != nil {
		return nil, err
	}
	ordered := Order(waiting)
	estimates := make(map[string]int, len(ordered))
	for i, entry := range ordered {
		estimates[entry.EntryID] = s.estimator.Estimate(department, i+1)
	}
	if len(estimates) > 0 {
		if err := s.store.UpdateEstimates(ctx, estimates); err != nil {
			return nil, err
		}
	}
	if err := s.broadcastScope(ctx, hospitalID, department); err != nil {
		return nil, err
	}
	return estimates, nil
}

func (s *Service) broadcastScope(ctx context.Context, hospitalID, department string) error {
	active, err := s.store.ListActive(ctx, hospitalID, department)
	if err != nil {
		return err
	}
	s.hub.Broadcast(hub.Update{
		HospitalID: hospitalID,
		Department: department,
		Entries:    Order(active),
	})
	return nil
}

func (s *Service) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return s.store.GetEntry(ctx, entryID)
}

func (s *Service) DepartmentQueue(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error) {
	active, err := s.store.ListActive(ctx, hospitalID, department)
	if err != nil {
		return nil, err
	}
	return Order(active), nil
}

func (s *Service) PatientPosition(ctx context.Context, patientID, hospitalID string) (models.PositionUpdate, error) {
	entries, err := s.store.ListPatientEntries(ctx, patientID, hospitalID)
	if err != nil {
		return models.PositionUpdate{}, err
	}
	var current *models.QueueEntry
	for i := range entries {
		if !models.Active(entries[i].Status) {
			continue
		}
		if current == nil || entries[i].CreatedAt.After(current.CreatedAt) {
			current = &entries[i]
		}
	}
	if current == nil {
		return models.PositionUpdate{}, nil
	}
	update := models.PositionUpdate{Entry: current, EstimatedWaitTime: current.EstimatedWaitTime}
	if current.Status == models.StatusWaiting {
		scope, err := s.store.ListWaiting(ctx, hospitalID, current.Department)
		if err != nil {
			return models.PositionUpdate{}, err
		}
		update.Position = Position(*current, scope)
	}
	return update, nil
}

func (s *Service) HospitalSummary(ctx context.Context, hospitalID string) ([]models.DepartmentSummary, error) {
	dayStart, dayEnd := s.today()
	summaries, err := s.store.DepartmentSummaries(ctx, hospitalID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if summaries[i].AverageWaitTime == 0 {
			summaries[i].AverageWaitTime = s.estimator.BaseWait(summaries[i].Department)
		}
	}
	return summaries, nil
}

func (s *Service) GetStatistics(ctx context.Context, hospitalID string, from, to time.Time) (models.Statistics, error) {
	return s.store.GetStatistics(ctx, hospitalID, from, to)
}

// MaterializeToday ensures exactly one queue entry exists for every confirmed
// booking dated today. Safe to run any number of times; returns how many
// entries were created this run.
func (s *Service) MaterializeToday(ctx context.Context) (int, error) {
	dayStart, dayEnd := s.today()
	bookings, err := s.store.ListConfirmedBookings(ctx, dayStart, dayEnd)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, booking := range bookings {
		entry, ok, err := s.store.CreateEntry(ctx, store.CreateEntryInput{
			PatientID:       booking.PatientID,
			PatientName:     booking.PatientName,
			HospitalID:      booking.HospitalID,
			HospitalName:    booking.HospitalName,
			Department:      booking.Department,
			DoctorID:        booking.DoctorID,
			DoctorName:      booking.DoctorName,
			AppointmentType: booking.AppointmentType,
			Priority:        models.NormalizePriority(booking.Urgency),
			BookingID:       booking.BookingID,
			EstimatedWait:   s.estimator.BaseWait(booking.Department),
			CreatedAt:       s.now(),
		})
		if err != nil {
			return created, err
		}
		if !ok {
			continue
		}
		created++
		estimates, err := s.refreshScope(ctx, booking.HospitalID, booking.Department)
		if err != nil {
			return created, err
		}
		if minutes, found := estimates[entry.EntryID]; found {
			entry.EstimatedWaitTime = minutes
		}
		go s.notifier.Dispatch(context.Background(), entry)
	}
	return created, nil
}

// SubscribeDepartmentQueue returns a stream of the scope's live list plus a
// cancel func. The current list is pushed immediately, then again on every
// change.
func (s *Service) SubscribeDepartmentQueue(hospitalID, department string) (<-chan []models.QueueEntry, func()) {
	client, cancel := s.subscribe(hub.Subscription{HospitalID: hospitalID, Department: department})
	out := make(chan []models.QueueEntry, 16)
	go func() {
		defer close(out)
		for update := range client.Send {
			select {
			case out <- update.Entries:
			default:
			}
		}
	}()
	if entries, err := s.DepartmentQueue(context.Background(), hospitalID, department); err == nil {
		out <- entries
	}
	return out, cancel
}

// SubscribePatientPosition streams the patient's live position in the
// hospital; a nil Entry means the patient no longer holds an active entry.
func (s *Service) SubscribePatientPosition(patientID, hospitalID string) (<-chan models.PositionUpdate, func()) {
	client, cancel := s.subscribe(hub.Subscription{HospitalID: hospitalID})
	out := make(chan models.PositionUpdate, 16)
	go func() {
		defer close(out)
		for range client.Send {
			update, err := s.PatientPosition(context.Background(), patientID, hospitalID)
			if err != nil {
				continue
			}
			select {
			case out <- update:
			default:
			}
		}
	}()
	if update, err := s.PatientPosition(context.Background(), patientID, hospitalID); err == nil {
		out <- update
	}
	return out, cancel
}

func (s *Service) subscribe(sub hub.Subscription) (*hub.Client, func()) {
	client := &hub.Client{
		ID:           newClientID(),
		Send:         make(chan hub.Update, 16),
		Subscription: sub,
	}
	s.hub.Register(client)
	return client, func() { s.hub.Unregister(client) }
}

func newClientID() string {
	return uuid.NewString()
}

func (s *Service) ListEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	return s.store.ListOutboxEvents(ctx, after, limit)
}

func (s *Service) today() (time.Time, time.Time) {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}
