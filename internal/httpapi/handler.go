package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hqms/queue-service/internal/models"
	"hqms/queue-service/internal/queue"
	"hqms/queue-service/internal/store"
)

type Handler struct {
	api queue.API
	ws  *realtimeHandler
}

type checkInRequest struct {
	PatientID       string `json:"patient_id"`
	PatientName     string `json:"patient_name"`
	HospitalID      string `json:"hospital_id"`
	HospitalName    string `json:"hospital_name"`
	Department      string `json:"department"`
	DoctorID        string `json:"doctor_id"`
	DoctorName      string `json:"doctor_name"`
	AppointmentType string `json:"appointment_type"`
	Priority        string `json:"priority"`
	Notes           string `json:"notes"`
	BookingID       string `json:"booking_id"`
}

type callNextRequest struct {
	HospitalID string `json:"hospital_id"`
	Department string `json:"department"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(api queue.API) *Handler {
	return &Handler{
		api: api,
		ws:  newRealtimeHandler(api),
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/queue/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/department", h.handleDepartmentQueue)
	mux.HandleFunc("/api/queue/position", h.handlePosition)
	mux.HandleFunc("/api/queue/summary", h.handleSummary)
	mux.HandleFunc("/api/queue/", h.handleEntry)
	mux.HandleFunc("/api/statistics", h.handleStatistics)
	mux.HandleFunc("/api/bookings/materialize", h.handleMaterialize)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/ws", h.ws.serve)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	req.HospitalID = strings.TrimSpace(req.HospitalID)
	req.Department = strings.TrimSpace(req.Department)
	req.Priority = strings.TrimSpace(req.Priority)
	req.BookingID = strings.TrimSpace(req.BookingID)

	if req.PatientID == "" || req.HospitalID == "" || req.Department == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id, hospital_id, and department are required")
		return
	}
	if req.Priority != "" && !isValidPriority(req.Priority) {
		writeError(w, http.StatusBadRequest, "invalid_request", "priority must be normal, high, or urgent")
		return
	}

	entry, err := h.api.CheckIn(r.Context(), queue.CheckInInput{
		PatientID:       req.PatientID,
		PatientName:     strings.TrimSpace(req.PatientName),
		HospitalID:      req.HospitalID,
		HospitalName:    strings.TrimSpace(req.HospitalName),
		Department:      req.Department,
		DoctorID:        strings.TrimSpace(req.DoctorID),
		DoctorName:      strings.TrimSpace(req.DoctorName),
		AppointmentType: strings.TrimSpace(req.AppointmentType),
		Priority:        req.Priority,
		Notes:           req.Notes,
		BookingID:       req.BookingID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.HospitalID = strings.TrimSpace(req.HospitalID)
	req.Department = strings.TrimSpace(req.Department)
	if req.HospitalID == "" || req.Department == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "hospital_id and department are required")
		return
	}

	entry, err := h.api.CallNext(r.Context(), req.HospitalID, req.Department)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entry": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entry": entry})
}

// handleEntry dispatches /api/queue/{id} and /api/queue/{id}/actions/*.
func (h *Handler) handleEntry(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleGetEntry(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "transition":
		h.handleTransition(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "cancel":
		h.handleCancel(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entry, err := h.api.GetEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Status = strings.TrimSpace(req.Status)
	if !isValidStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be called, in_progress, completed, or cancelled")
		return
	}

	if err := h.api.Transition(r.Context(), entryID, req.Status, req.Notes); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	entry, err := h.api.GetEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// An empty body is a cancellation without a reason.
	var req cancelRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if err := h.api.Cancel(r.Context(), entryID, strings.TrimSpace(req.Reason)); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	entry, err := h.api.GetEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDepartmentQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	hospitalID := strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	department := strings.TrimSpace(r.URL.Query().Get("department"))
	if hospitalID == "" || department == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "hospital_id and department are required")
		return
	}

	entries, err := h.api.DepartmentQueue(r.Context(), hospitalID, department)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	hospitalID := strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	if patientID == "" || hospitalID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id and hospital_id are required")
		return
	}

	update, err := h.api.PatientPosition(r.Context(), patientID, hospitalID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	hospitalID := strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	if hospitalID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "hospital_id is required")
		return
	}

	summaries, err := h.api.HospitalSummary(r.Context(), hospitalID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if summaries == nil {
		summaries = []models.DepartmentSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	hospitalID := strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	if hospitalID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "hospital_id is required")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		to = parsed
	}

	stats, err := h.api.GetStatistics(r.Context(), hospitalID, from, to)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	created, err := h.api.MaterializeToday(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after time.Time
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339")
			return
		}
		after = parsed
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := h.api.ListEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func isValidPriority(priority string) bool {
	switch priority {
	case models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
		return true
	default:
		return false
	}
}

func isValidStatus(status string) bool {
	switch status {
	case models.StatusCalled, models.StatusInProgress, models.StatusCompleted, models.StatusCancelled:
		return true
	default:
		return false
	}
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found", "booking not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "entry status does not allow this transition"
	case errors.Is(err, store.ErrAllocationConflict):
		return http.StatusConflict, "allocation_conflict", "could not allocate a queue number, retry the request"
	case errors.Is(err, store.ErrDuplicateIngestion):
		return http.StatusConflict, "duplicate_booking", "booking already has a queue entry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
