package hub

import (
	"encoding/json"
	"log"
	"sync"

	"hqms/queue-service/internal/models"
)

type Subscription struct {
	HospitalID string
	Department string
}

// Update is one push of a scope's live queue: the waiting/called/in_progress
// entries in scheduling order, re-sent on every underlying change.
type Update struct {
	HospitalID string              `json:"hospital_id"`
	Department string              `json:"department"`
	Entries    []models.QueueEntry `json:"entries"`
}

type Client struct {
	ID           string
	Send         chan Update
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action     string `json:"action"`
	HospitalID string `json:"hospital_id"`
	Department string `json:"department"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast delivers the update to every client whose subscription matches.
// Slow clients drop updates rather than block the caller; the next broadcast
// for the scope carries the full list again.
func (h *Hub) Broadcast(update Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, update) {
			continue
		}
		select {
		case client.Send <- update:
		default:
			log.Printf("hub drop update client=%s hospital=%s department=%s", client.ID, update.HospitalID, update.Department)
		}
	}
}

func match(sub Subscription, update Update) bool {
	if sub.HospitalID != "" && update.HospitalID != sub.HospitalID {
		return false
	}
	if sub.Department != "" && update.Department != sub.Department {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
