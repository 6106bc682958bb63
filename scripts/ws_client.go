// Package main runs a demo WebSocket client for schedule run events.
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

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first and subscribe to all runs so no events are missed.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"runId": ""})
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

	// Trigger a run.
	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	body := []byte(fmt.Sprintf(`{"date":%q,"mode":"fast"}`, date))
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/schedules/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var schedule struct {
		ID          string `json:"id"`
		ServedCount int    `json:"servedCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&schedule); err != nil {
		log.Fatal(err)
	}
	log.Printf("Schedule %s generated, %d stops served", schedule.ID, schedule.ServedCount)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
