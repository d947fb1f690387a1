package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/actions"
	"github.com/Blank-Slate-Dev/drivlet-sub004/internal/notify"
)

// Booking subscriptions over WebSocket, using the graphql-transport-ws
// message envelope so standard clients can connect:
//
//	-> {"type":"connection_init"}
//	<- {"type":"connection_ack"}
//	-> {"type":"subscribe","id":"1","payload":{"variables":{"bookingId":"..."}}}
//	<- {"type":"next","id":"1","payload":{"data":{"bookingEvents":{...}}}}
//	-> {"type":"complete","id":"1"}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// WSHandler handles /v1/ws. The caller is authenticated on upgrade and each
// subscription is authorized against its booking.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		bookingID string
		ch        chan notify.Event
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	fail := func(id, msg string) {
		payload, _ := json.Marshal([]map[string]string{{"message": msg}})
		_ = write(wsMessage{Type: "error", ID: id, Payload: payload})
	}

	stop := make(chan struct{})
	defer close(stop)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				fail(msg.ID, "subscription id missing or already in use")
				continue
			}
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			bid, _ := pl.Variables["bookingId"].(string)
			if bid == "" {
				fail(msg.ID, "bookingId required")
				continue
			}
			b, err := s.Bookings.GetBooking(r.Context(), bid)
			if err != nil || !actions.CanView(actor, &b) {
				fail(msg.ID, "booking not found or forbidden")
				continue
			}
			ch := s.Broker.Subscribe(bid)
			subs[msg.ID] = sub{bookingID: bid, ch: ch}
			go func(id string, c chan notify.Event) {
				for evt := range c {
					payload, _ := json.Marshal(map[string]any{"data": map[string]any{"bookingEvents": evt}})
					if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.bookingID, s0.ch)
				delete(subs, msg.ID)
			}
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.bookingID, s0.ch)
		delete(subs, id)
	}
}
