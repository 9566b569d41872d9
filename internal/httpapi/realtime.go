package httpapi

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"hqms/queue-service/internal/hub"
	"hqms/queue-service/internal/models"
	"hqms/queue-service/internal/queue"
)

type realtimeHandler struct {
	api      queue.API
	upgrader websocket.Upgrader
}

type queueFrame struct {
	Type       string              `json:"type"`
	HospitalID string              `json:"hospital_id"`
	Department string              `json:"department"`
	Entries    []models.QueueEntry `json:"entries"`
}

type positionFrame struct {
	Type string `json:"type"`
	models.PositionUpdate
}

func newRealtimeHandler(api queue.API) *realtimeHandler {
	return &realtimeHandler{
		api: api,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// serve streams either a department's live queue (hospital_id + department)
// or one patient's position (hospital_id + patient_id). Department sessions
// may switch scope by sending a subscribe message.
func (h *realtimeHandler) serve(w http.ResponseWriter, r *http.Request) {
	hospitalID := strings.TrimSpace(r.URL.Query().Get("hospital_id"))
	department := strings.TrimSpace(r.URL.Query().Get("department"))
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if hospitalID == "" || (department == "" && patientID == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "hospital_id plus department or patient_id are required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeFrame := func(frame interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	if patientID != "" {
		h.servePosition(conn, writeFrame, patientID, hospitalID)
		return
	}
	h.serveQueue(conn, writeFrame, hospitalID, department)
}

func (h *realtimeHandler) servePosition(conn *websocket.Conn, writeFrame func(interface{}) error, patientID, hospitalID string) {
	updates, cancel := h.api.SubscribePatientPosition(patientID, hospitalID)
	defer cancel()

	go func() {
		for update := range updates {
			if err := writeFrame(positionFrame{Type: "position", PositionUpdate: update}); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *realtimeHandler) serveQueue(conn *websocket.Conn, writeFrame func(interface{}) error, hospitalID, department string) {
	startWriter := func(hospitalID, department string, updates <-chan []models.QueueEntry) {
		go func() {
			for entries := range updates {
				if err := writeFrame(queueFrame{
					Type:       "queue",
					HospitalID: hospitalID,
					Department: department,
					Entries:    entries,
				}); err != nil {
					conn.Close()
					return
				}
			}
		}()
	}

	updates, cancel := h.api.SubscribeDepartmentQueue(hospitalID, department)
	defer func() { cancel() }()
	startWriter(hospitalID, department, updates)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, ok := hub.ParseSubscribe(data)
		if !ok || msg.Action != "subscribe" || msg.Department == "" {
			continue
		}
		cancel()
		if msg.HospitalID != "" {
			hospitalID = msg.HospitalID
		}
		department = msg.Department
		updates, cancel = h.api.SubscribeDepartmentQueue(hospitalID, department)
		startWriter(hospitalID, department, updates)
	}
}
