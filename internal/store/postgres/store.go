package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"hqms/queue-service/internal/models"
	"hqms/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const allocationAttempts = 3

// errBookingRace marks a lost booking-insert race whose winner is not
// yet visible; the allocation loop retries until the winner commits.
var errBookingRace = errors.New("concurrent booking insert")

const entryColumns = `
	entry_id, booking_id, patient_id, patient_name, hospital_id, hospital_name,
	department, doctor_id, doctor_name, queue_number, priority, appointment_type,
	status, created_at, called_at, completed_at, cancelled_at, cancellation_reason,
	estimated_wait_time, actual_wait_time, notes
`

type Store struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

func NewStore(pool *pgxpool.Pool, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{pool: pool, loc: loc}
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	var lastErr error
	for attempt := 0; attempt < allocationAttempts; attempt++ {
		entry, created, err := s.createEntryOnce(ctx, input)
		if err == nil {
			return entry, created, nil
		}
		if !retryableTxError(err) {
			return models.QueueEntry{}, false, err
		}
		lastErr = err
	}
	return models.QueueEntry{}, false, errors.Join(store.ErrAllocationConflict, lastErr)
}

func (s *Store) createEntryOnce(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.BookingID != "" {
		existing, found, err2 := findEntryByBooking(ctx, tx, input.BookingID)
		if err2 != nil {
			err = err2
			return models.QueueEntry{}, false, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.QueueEntry{}, false, err
			}
			return existing, false, nil
		}
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	day := createdAt.In(s.loc).Format("2006-01-02")

	number, err := nextQueueNumber(ctx, tx, input.HospitalID, input.Department, day)
	if err != nil {
		return models.QueueEntry{}, false, err
	}

	var entry models.QueueEntry
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, booking_id, patient_id, patient_name, hospital_id, hospital_name,
			department, doctor_id, doctor_name, queue_number, priority, appointment_type,
			status, created_at, estimated_wait_time, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (booking_id) WHERE booking_id <> '' DO NOTHING
		RETURNING `+entryColumns+`
	`, uuid.NewString(), input.BookingID, input.PatientID, input.PatientName, input.HospitalID, input.HospitalName,
		input.Department, input.DoctorID, input.DoctorName, number, models.NormalizePriority(input.Priority), input.AppointmentType,
		models.StatusWaiting, createdAt, input.EstimatedWait, input.Notes)
	if err = scanEntry(row, &entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) && input.BookingID != "" {
			// Lost the insert race for this booking. Roll back so the
			// queue_sequences bump is released, then surface the winner
			// from outside the transaction.
			_ = tx.Rollback(ctx)
			existing, found, err2 := s.FindByBooking(ctx, input.BookingID)
			if err2 != nil {
				err = err2
				return models.QueueEntry{}, false, err
			}
			if found {
				err = nil
				return existing, false, nil
			}
			// Winner has not committed yet.
			err = errBookingRace
			return models.QueueEntry{}, false, err
		}
		return models.QueueEntry{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, "queue.created", entry); err != nil {
		return models.QueueEntry{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	var entry models.QueueEntry
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE entry_id = $1
	`, entryID)
	if err := scanEntry(row, &entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) FindByBooking(ctx context.Context, bookingID string) (models.QueueEntry, bool, error) {
	var entry models.QueueEntry
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE booking_id = $1
	`, bookingID)
	if err := scanEntry(row, &entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var entry models.QueueEntry
	row := tx.QueryRow(ctx, `
		WITH next_entry AS (
			SELECT entry_id
			FROM queue_entries
			WHERE hospital_id = $1 AND department = $2 AND status = 'waiting'
			ORDER BY
				CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 ELSE 2 END,
				queue_number ASC,
				created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE queue_entries
		SET status = 'called',
			called_at = $3
		FROM next_entry
		WHERE queue_entries.entry_id = next_entry.entry_id
		RETURNING `+qualifiedEntryColumns()+`
	`, input.HospitalID, input.Department, calledAt)
	if err = scanEntry(row, &entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err = tx.Commit(ctx); err != nil {
				return models.QueueEntry{}, false, err
			}
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, "queue.called", entry); err != nil {
		return models.QueueEntry{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	allowed := store.AllowedFrom(input.ToStatus)
	if len(allowed) == 0 {
		return models.QueueEntry{}, store.ErrInvalidTransition
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var entry models.QueueEntry
	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $2,
			called_at = CASE WHEN $2 = 'called' THEN $3 ELSE called_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancelled_at END,
			cancellation_reason = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancellation_reason END,
			actual_wait_time = CASE WHEN $2 = 'completed'
				THEN ROUND(EXTRACT(EPOCH FROM ($3::timestamptz - created_at)) / 60)::int
				ELSE actual_wait_time END,
			notes = CASE WHEN $5 <> '' THEN $5 ELSE notes END
		WHERE entry_id = $1 AND status = ANY($6)
		RETURNING `+entryColumns+`
	`, input.EntryID, input.ToStatus, occurredAt, input.Reason, input.Notes, allowed)
	if err = scanEntry(row, &entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err = tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM queue_entries WHERE entry_id = $1)
			`, input.EntryID).Scan(&exists); err != nil {
				return models.QueueEntry{}, err
			}
			if !exists {
				err = store.ErrEntryNotFound
				return models.QueueEntry{}, err
			}
			err = store.ErrInvalidTransition
			return models.QueueEntry{}, err
		}
		return models.QueueEntry{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "queue."+input.ToStatus, entry); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListWaiting(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error) {
	return s.listEntries(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE hospital_id = $1 AND department = $2 AND status = 'waiting'
		ORDER BY queue_number ASC
	`, hospitalID, department)
}

func (s *Store) ListActive(ctx context.Context, hospitalID, department string) ([]models.QueueEntry, error) {
	return s.listEntries(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE hospital_id = $1 AND department = $2
			AND status IN ('waiting', 'called', 'in_progress')
		ORDER BY queue_number ASC
	`, hospitalID, department)
}

func (s *Store) ListPatientEntries(ctx context.Context, patientID, hospitalID string) ([]models.QueueEntry, error) {
	return s.listEntries(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE patient_id = $1 AND hospital_id = $2
		ORDER BY created_at ASC
	`, patientID, hospitalID)
}

func (s *Store) UpdateEstimates(ctx context.Context, estimates map[string]int) error {
	if len(estimates) == 0 {
		return nil
	}
	ids := make([]string, 0, len(estimates))
	minutes := make([]int, 0, len(estimates))
	for id, wait := range estimates {
		ids = append(ids, id)
		minutes = append(minutes, wait)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_entries AS q
		SET estimated_wait_time = v.minutes
		FROM (SELECT UNNEST($1::text[]) AS entry_id, UNNEST($2::int[]) AS minutes) v
		WHERE q.entry_id = v.entry_id AND q.status = 'waiting'
	`, ids, minutes)
	return err
}

func (s *Store) DepartmentSummaries(ctx context.Context, hospitalID string, dayStart, dayEnd time.Time) ([]models.DepartmentSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			department,
			COUNT(*) FILTER (WHERE status = 'waiting') AS waiting_count,
			COUNT(*) AS total_today,
			COALESCE(ROUND(AVG(actual_wait_time) FILTER (WHERE status = 'completed'))::int, 0) AS average_wait
		FROM queue_entries
		WHERE hospital_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY department
		ORDER BY department ASC
	`, hospitalID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.DepartmentSummary
	for rows.Next() {
		var summary models.DepartmentSummary
		if err := rows.Scan(&summary.Department, &summary.WaitingCount, &summary.TotalToday, &summary.AverageWaitTime); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		var number sql.NullInt64
		row := s.pool.QueryRow(ctx, `
			SELECT queue_number
			FROM queue_entries
			WHERE hospital_id = $1 AND department = $2
				AND status IN ('called', 'in_progress')
				AND created_at >= $3 AND created_at < $4
			ORDER BY called_at DESC NULLS LAST
			LIMIT 1
		`, hospitalID, summaries[i].Department, dayStart, dayEnd)
		if err := row.Scan(&number); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, err
		}
		if number.Valid {
			active := int(number.Int64)
			summaries[i].ActiveQueueNumber = &active
		}
	}
	return summaries, nil
}

func (s *Store) GetStatistics(ctx context.Context, hospitalID string, from, to time.Time) (models.Statistics, error) {
	stats := models.Statistics{HospitalID: hospitalID, From: from, To: to}
	rows, err := s.pool.Query(ctx, `
		SELECT
			department,
			COUNT(*) AS total_entries,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COALESCE(ROUND(AVG(actual_wait_time) FILTER (WHERE status = 'completed'))::int, 0) AS average_wait
		FROM queue_entries
		WHERE hospital_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY department
		ORDER BY department ASC
	`, hospitalID, from, to)
	if err != nil {
		return models.Statistics{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var dept models.DepartmentStats
		if err := rows.Scan(&dept.Department, &dept.TotalEntries, &dept.Completed, &dept.Cancelled, &dept.AverageWaitTime); err != nil {
			return models.Statistics{}, err
		}
		stats.Departments = append(stats.Departments, dept)
		stats.TotalEntries += dept.TotalEntries
		stats.Completed += dept.Completed
		stats.Cancelled += dept.Cancelled
	}
	if err := rows.Err(); err != nil {
		return models.Statistics{}, err
	}

	var hospitalAvg sql.NullInt64
	row := s.pool.QueryRow(ctx, `
		SELECT ROUND(AVG(actual_wait_time))::int
		FROM queue_entries
		WHERE hospital_id = $1 AND created_at >= $2 AND created_at < $3 AND status = 'completed'
	`, hospitalID, from, to)
	if err := row.Scan(&hospitalAvg); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return models.Statistics{}, err
	}
	if hospitalAvg.Valid {
		stats.AverageWaitTime = int(hospitalAvg.Int64)
	}
	return stats, nil
}

func (s *Store) ListConfirmedBookings(ctx context.Context, dayStart, dayEnd time.Time) ([]models.Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT booking_id, patient_id, patient_name, hospital_id, hospital_name,
			department, doctor_id, doctor_name, appointment_type, urgency,
			appointment_date, status
		FROM bookings
		WHERE status = $1 AND appointment_date >= $2 AND appointment_date < $3
		ORDER BY appointment_date ASC
	`, models.BookingStatusConfirmed, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var booking models.Booking
		if err := rows.Scan(&booking.BookingID, &booking.PatientID, &booking.PatientName,
			&booking.HospitalID, &booking.HospitalName, &booking.Department,
			&booking.DoctorID, &booking.DoctorName, &booking.AppointmentType,
			&booking.Urgency, &booking.AppointmentDate, &booking.Status); err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
	`
	args := []interface{}{}
	if !after.IsZero() {
		query += " WHERE created_at > $1 ORDER BY created_at ASC LIMIT $2"
		args = append(args, after, limit)
	} else {
		query += " ORDER BY created_at ASC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) listEntries(ctx context.Context, query string, args ...interface{}) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		if err := scanEntry(rows, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func nextQueueNumber(ctx context.Context, tx pgx.Tx, hospitalID, department, day string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_sequences (hospital_id, department, day, next_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (hospital_id, department, day)
		DO UPDATE SET next_number = queue_sequences.next_number + 1
		RETURNING next_number
	`, hospitalID, department, day)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func findEntryByBooking(ctx context.Context, tx pgx.Tx, bookingID string) (models.QueueEntry, bool, error) {
	var entry models.QueueEntry
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE booking_id = $1
	`, bookingID)
	if err := scanEntry(row, &entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, entry models.QueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payload, time.Now().UTC())
	return err
}

func scanEntry(row pgx.Row, entry *models.QueueEntry) error {
	var bookingIDNull sql.NullString
	var calledAtNull sql.NullTime
	var completedAtNull sql.NullTime
	var cancelledAtNull sql.NullTime
	var reasonNull sql.NullString
	var actualWaitNull sql.NullInt64
	var notesNull sql.NullString
	if err := row.Scan(
		&entry.EntryID, &bookingIDNull, &entry.PatientID, &entry.PatientName,
		&entry.HospitalID, &entry.HospitalName, &entry.Department,
		&entry.DoctorID, &entry.DoctorName, &entry.QueueNumber, &entry.Priority,
		&entry.AppointmentType, &entry.Status, &entry.CreatedAt,
		&calledAtNull, &completedAtNull, &cancelledAtNull, &reasonNull,
		&entry.EstimatedWaitTime, &actualWaitNull, &notesNull,
	); err != nil {
		return err
	}
	if bookingIDNull.Valid {
		entry.BookingID = bookingIDNull.String
	}
	entry.CalledAt = nullTimePtr(calledAtNull)
	entry.CompletedAt = nullTimePtr(completedAtNull)
	entry.CancelledAt = nullTimePtr(cancelledAtNull)
	if reasonNull.Valid {
		entry.CancellationReason = reasonNull.String
	}
	if actualWaitNull.Valid {
		wait := int(actualWaitNull.Int64)
		entry.ActualWaitTime = &wait
	}
	if notesNull.Valid {
		entry.Notes = notesNull.String
	}
	return nil
}

func qualifiedEntryColumns() string {
	return `
		queue_entries.entry_id, queue_entries.booking_id, queue_entries.patient_id, queue_entries.patient_name,
		queue_entries.hospital_id, queue_entries.hospital_name, queue_entries.department,
		queue_entries.doctor_id, queue_entries.doctor_name, queue_entries.queue_number, queue_entries.priority,
		queue_entries.appointment_type, queue_entries.status, queue_entries.created_at,
		queue_entries.called_at, queue_entries.completed_at, queue_entries.cancelled_at, queue_entries.cancellation_reason,
		queue_entries.estimated_wait_time, queue_entries.actual_wait_time, queue_entries.notes
	`
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func retryableTxError(err error) bool {
	if errors.Is(err, errBookingRace) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
