package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"hqms/queue-service/internal/models"
	"hqms/queue-service/internal/queue"
	"hqms/queue-service/internal/store"

	"github.com/google/uuid"
)

// Store keeps the whole queue state in process. It implements the same
// contract as the Postgres adapter: allocation is serialized per
// (hospitalID, department, day) scope and transitions check-and-write under
// one lock, so a concurrent second transition observes the new status.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*models.QueueEntry
	byBooking  map[string]string
	sequences  map[string]int
	scopeLocks map[string]*sync.Mutex
	bookings   map[string]models.Booking
	outbox     []store.OutboxEvent
	loc        *time.Location
}

func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		entries:    make(map[string]*models.QueueEntry),
		byBooking:  make(map[string]string),
		sequences:  make(map[string]int),
		scopeLocks: make(map[string]*sync.Mutex),
		bookings:   make(map[string]models.Booking),
		loc:        loc,
	}
}

func (s *Store) scopeKey(hospitalID, department string, at time.Time) string {
	return fmt.Sprintf("%s|%s|%s", hospitalID, department, at.In(s.loc).Format("2006-01-02"))
}

func (s *Store) scopeLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.scopeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.scopeLocks[key] = lock
	}
	return lock
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if input.BookingID != "" {
		if existing, found, _ := s.FindByBooking(ctx, input.BookingID); found {
			return existing, false, nil
		}
	}

	key := s.scopeKey(input.HospitalID, input.Department, createdAt)
	lock := s.scopeLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if input.BookingID != "" {
		if id, ok := s.byBooking[input.BookingID]; ok {
			return *s.entries[id], false, nil
		}
	}

	seq := s.sequences[key] + 1
	s.sequences[key] = seq

	entry := models.QueueEntry{
		EntryID:           uuid.NewString(),
		BookingID:         input.BookingID,
		PatientID:         input.PatientID,
		PatientName:       input.PatientName,
		HospitalID:        input.HospitalID,
		HospitalName:      input.HospitalName,
		Department:        input.Department,
		DoctorID:          input.DoctorID,
		DoctorName:        input.DoctorName,
		QueueNumber:       seq,
		Priority:          models.NormalizePriority(input.Priority),
		AppointmentType:   input.AppointmentType,
		Status:            models.StatusWaiting,
		CreatedAt:         createdAt,
		EstimatedWaitTime: input.EstimatedWait,
		Notes:             input.Notes,
	}
	s.entries[entry.EntryID] = &entry
	if entry.BookingID != "" {
		s.byBooking[entry.BookingID] = entry.EntryID
	}
	s.appendOutboxLocked("queue.created", entry)

	return entry, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return *entry, nil
}

func (s *Store) FindByBooking(ctx context.Context, bookingID string) (models.QueueEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byBooking[bookingID]
	if !ok {
		return models.QueueEntry{}, false, nil
	}
	return *s.entries[id], true, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.QueueEntry, bool, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var waiting []models.QueueEntry
	for _, entry := range s.entries {
		if entry.HospitalID == input.HospitalID && entry.Department == input.Department && entry.Status == models.StatusWaiting {
			waiting = append(waiting, *entry)
		}
	}
	next := queue.SelectNext(waiting)
	if next == nil {
		return models.QueueEntry{}, false, nil
	}

	entry := s.entries[next.EntryID]
	entry.Status = models.StatusCalled
	entry.CalledAt = &calledAt
	s.appendOutboxLocked("queue.called", *entry)

	return *entry, true, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[input.EntryID]
	if !ok {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if !store.ValidTransition(entry.Status, input.ToStatus) {
		return models.QueueEntry{}, store.ErrInvalidTransition
	}

	entry.Status = input.ToStatus
	if input.Notes != "" {
		entry.Notes = input.Notes
	}
	switch input.ToStatus {
	case models.StatusCalled:
		at := occurredAt
		entry.CalledAt = &at
	case models.StatusCompleted:
		at := occurredAt
		entry.CompletedAt = &at
		waited := int(math.Round(at.Sub(entry.CreatedAt).Minutes()))
		entry.ActualWaitTime = &waited
	case models.StatusCancelled:
		at := occurredAt
		entry.CancelledAt = &at
		entry.CancellationReason = input.Reason
	}
	s.appendOutboxLocked("queue."+input.ToStatus, *entry)

	return *entry, nil
}

func (s *Store) ListWaiting(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error) {
	return s.list(func(entry models.QueueEntry) bool {
		return entry.HospitalID == hospitalID && entry.Department == department && entry.Status == models.StatusWaiting
	}), nil
}

func (s *Store) ListActive(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error) {
	return s.list(func(entry models.QueueEntry) bool {
		return entry.HospitalID == hospitalID && entry.Department == department && models.Active(entry.Status)
	}), nil
}

func (s *Store) ListPatientEntries(ctx context.Context, patientID, hospitalID string) ([]models.QueueEntry, error) {
	return s.list(func(entry models.QueueEntry) bool {
		return entry.PatientID == patientID && entry.HospitalID == hospitalID
	}), nil
}

func (s *Store) list(keep func(models.QueueEntry) bool) []models.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []models.QueueEntry
	for _, entry := range s.entries {
		if keep(*entry) {
			matched = append(matched, *entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].QueueNumber < matched[j].QueueNumber
	})
	return matched
}

func (s *Store) UpdateEstimates(ctx context.Context, estimates map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for entryID, minutes := range estimates {
		if entry, ok := s.entries[entryID]; ok && entry.Status == models.StatusWaiting {
			entry.EstimatedWaitTime = minutes
		}
	}
	return nil
}

func (s *Store) DepartmentSummaries(ctx context.Context, hospitalID string, dayStart, dayEnd time.Time) ([]models.DepartmentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDept := make(map[string]*models.DepartmentSummary)
	waitTotals := make(map[string]int)
	waitCounts := make(map[string]int)
	activeCalled := make(map[string]models.QueueEntry)

	for _, entry := range s.entries {
		if entry.HospitalID != hospitalID {
			continue
		}
		summary, ok := byDept[entry.Department]
		if !ok {
			summary = &models.DepartmentSummary{Department: entry.Department}
			byDept[entry.Department] = summary
		}
		if !entry.CreatedAt.Before(dayStart) && entry.CreatedAt.Before(dayEnd) {
			summary.TotalToday++
		}
		switch entry.Status {
		case models.StatusWaiting:
			summary.WaitingCount++
		case models.StatusCalled:
			current, seen := activeCalled[entry.Department]
			if !seen || (entry.CalledAt != nil && current.CalledAt != nil && entry.CalledAt.After(*current.CalledAt)) {
				activeCalled[entry.Department] = *entry
			}
		case models.StatusCompleted:
			if entry.ActualWaitTime != nil {
				waitTotals[entry.Department] += *entry.ActualWaitTime
				waitCounts[entry.Department]++
			}
		}
	}

	summaries := make([]models.DepartmentSummary, 0, len(byDept))
	for dept, summary := range byDept {
		if called, ok := activeCalled[dept]; ok {
			number := called.QueueNumber
			summary.ActiveQueueNumber = &number
		}
		if count := waitCounts[dept]; count > 0 {
			summary.AverageWaitTime = (waitTotals[dept] + count/2) / count
		}
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Department < summaries[j].Department
	})
	return summaries, nil
}

func (s *Store) GetStatistics(ctx context.Context, hospitalID string, from, to time.Time) (models.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.Statistics{HospitalID: hospitalID, From: from, To: to}
	byDept := make(map[string]*models.DepartmentStats)
	waitTotals := make(map[string]int)
	waitCounts := make(map[string]int)
	totalWait := 0
	totalCompletedWait := 0

	for _, entry := range s.entries {
		if entry.HospitalID != hospitalID || entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		stats.TotalEntries++
		dept, ok := byDept[entry.Department]
		if !ok {
			dept = &models.DepartmentStats{Department: entry.Department}
			byDept[entry.Department] = dept
		}
		dept.TotalEntries++
		switch entry.Status {
		case models.StatusCompleted:
			stats.Completed++
			dept.Completed++
			if entry.ActualWaitTime != nil {
				totalWait += *entry.ActualWaitTime
				totalCompletedWait++
				waitTotals[entry.Department] += *entry.ActualWaitTime
				waitCounts[entry.Department]++
			}
		case models.StatusCancelled:
			stats.Cancelled++
			dept.Cancelled++
		}
	}

	if totalCompletedWait > 0 {
		stats.AverageWaitTime = (totalWait + totalCompletedWait/2) / totalCompletedWait
	}
	for dept, deptStats := range byDept {
		if count := waitCounts[dept]; count > 0 {
			deptStats.AverageWaitTime = (waitTotals[dept] + count/2) / count
		}
		stats.Departments = append(stats.Departments, *deptStats)
	}
	sort.Slice(stats.Departments, func(i, j int) bool {
		return stats.Departments[i].Department < stats.Departments[j].Department
	})
	return stats, nil
}

// AddBooking seeds a booking for the bridge. Production reads bookings from
// the shared database; the in-memory adapter is fed directly.
func (s *Store) AddBooking(booking models.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[booking.BookingID] = booking
}

func (s *Store) ListConfirmedBookings(ctx context.Context, dayStart, dayEnd time.Time) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bookings []models.Booking
	for _, booking := range s.bookings {
		if booking.Status != models.BookingStatusConfirmed {
			continue
		}
		if booking.AppointmentDate.Before(dayStart) || !booking.AppointmentDate.Before(dayEnd) {
			continue
		}
		bookings = append(bookings, booking)
	}
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].BookingID < bookings[j].BookingID
	})
	return bookings, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if !after.IsZero() && !event.CreatedAt.After(after) {
			continue
		}
		events = append(events, event)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *Store) appendOutboxLocked(eventType string, entry models.QueueEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.outbox = append(s.outbox, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
