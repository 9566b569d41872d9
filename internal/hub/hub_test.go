package hub

import (
	"testing"

	"hqms/queue-service/internal/models"
)

func newClient(id string, sub Subscription) *Client {
	return &Client{ID: id, Send: make(chan Update, 4), Subscription: sub}
}

func TestBroadcastMatchesSubscription(t *testing.T) {
	h := New()
	exact := newClient("exact", Subscription{HospitalID: "hosp-1", Department: "Cardiology"})
	hospitalWide := newClient("hospital", Subscription{HospitalID: "hosp-1"})
	other := newClient("other", Subscription{HospitalID: "hosp-2"})
	h.Register(exact)
	h.Register(hospitalWide)
	h.Register(other)

	h.Broadcast(Update{HospitalID: "hosp-1", Department: "Cardiology", Entries: []models.QueueEntry{{EntryID: "e1"}}})

	for _, client := range []*Client{exact, hospitalWide} {
		select {
		case update := <-client.Send:
			if len(update.Entries) != 1 || update.Entries[0].EntryID != "e1" {
				t.Fatalf("client %s got %+v", client.ID, update)
			}
		default:
			t.Fatalf("client %s received nothing", client.ID)
		}
	}
	select {
	case update := <-other.Send:
		t.Fatalf("client other should not match, got %+v", update)
	default:
	}
}

func TestBroadcastDropsWhenClientFull(t *testing.T) {
	h := New()
	slow := &Client{ID: "slow", Send: make(chan Update, 1), Subscription: Subscription{HospitalID: "hosp-1"}}
	h.Register(slow)

	h.Broadcast(Update{HospitalID: "hosp-1", Department: "Cardiology"})
	h.Broadcast(Update{HospitalID: "hosp-1", Department: "Cardiology"})

	if len(slow.Send) != 1 {
		t.Fatalf("buffered = %d, want 1", len(slow.Send))
	}
}

func TestUnregisterClosesSendOnce(t *testing.T) {
	h := New()
	client := newClient("c1", Subscription{})
	h.Register(client)

	h.Unregister(client)
	h.Unregister(client)

	if _, ok := <-client.Send; ok {
		t.Fatal("send channel should be closed")
	}

	// broadcasting after unregister must not panic on the closed channel
	h.Broadcast(Update{HospitalID: "hosp-1"})
}

func TestUpdateSubscription(t *testing.T) {
	h := New()
	client := newClient("c1", Subscription{HospitalID: "hosp-1", Department: "Cardiology"})
	h.Register(client)

	h.UpdateSubscription(client, Subscription{HospitalID: "hosp-1", Department: "Neurology"})
	h.Broadcast(Update{HospitalID: "hosp-1", Department: "Neurology"})

	select {
	case update := <-client.Send:
		if update.Department != "Neurology" {
			t.Fatalf("got %+v", update)
		}
	default:
		t.Fatal("client received nothing after resubscribe")
	}
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		name string
		data string
		ok   bool
	}{
		{"subscribe", `{"action":"subscribe","hospital_id":"hosp-1","department":"Cardiology"}`, true},
		{"unsubscribe", `{"action":"unsubscribe"}`, true},
		{"unknown action", `{"action":"ping"}`, false},
		{"invalid json", `{`, false},
	}
	for _, tc := range cases {
		msg, ok := ParseSubscribe([]byte(tc.data))
		if ok != tc.ok {
			t.Fatalf("%s: ok = %v, want %v", tc.name, ok, tc.ok)
		}
		if ok && tc.name == "subscribe" && msg.Department != "Cardiology" {
			t.Fatalf("%s: parsed %+v", tc.name, msg)
		}
	}
}
