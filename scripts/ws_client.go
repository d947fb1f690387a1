// Package main runs a demo WebSocket client that follows one booking while
// a driver works the pickup leg. It expects a server in AUTH_MODE=dev.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path, token string, body any) map[string]any {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	log.Printf("POST %s -> %d", path, resp.StatusCode)
	return out
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	booking := post(base, "/v1/bookings", "admin:ops-demo", map[string]any{
		"customer":      map[string]any{"name": "Demo Customer", "email": "demo@example.com"},
		"vehicle":       map[string]any{"registration": "DEMO01"},
		"pickupAddress": "1 Demo St",
		"garage":        map[string]any{"name": "Demo Garage"},
	})
	bookingID, _ := booking["id"].(string)
	if bookingID == "" {
		log.Fatalf("no booking created: %v", booking)
	}
	log.Printf("Booking ID: %s", bookingID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer admin:ops-demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"variables": map[string]any{"bookingId": bookingID}})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	time.Sleep(500 * time.Millisecond)
	const driver = "driver:demo-driver"
	post(base, "/v1/bookings/"+bookingID+"/legs/pickup/assign", driver, map[string]any{})
	for _, ev := range []string{"start", "collect", "complete"} {
		post(base, "/v1/bookings/"+bookingID+"/legs/pickup/events", driver, map[string]string{"event": ev})
		if ev == "start" {
			post(base, "/v1/bookings/"+bookingID+"/location", driver, map[string]float64{"lat": -33.87, "lng": 151.21})
		}
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
