package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	RunID string `json:"runId"`
}

// RunEventsWSHandler handles /v1/runs/ws. The client subscribes with
// {"type":"subscribe","id":"1","payload":{"runId":"..."}} and receives
// {"type":"next","id":"1","payload":{...}} frames until it completes the
// subscription or disconnects. An empty runId subscribes to all runs.
func (s *Server) RunEventsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		runID string
		ch    chan RunEvent
		done  chan struct{}
	}
	subs := map[string]sub{}
	defer func() {
		for _, sb := range subs {
			close(sb.done)
			s.Broker.Unsubscribe(sb.runID, sb.ch)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	writeMu := make(chan struct{}, 1)
	write := func(v any) error {
		writeMu <- struct{}{}
		defer func() { <-writeMu }()
		return conn.WriteJSON(v)
	}

	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
		case "subscribe":
			var p wsSubscribePayload
			_ = json.Unmarshal(msg.Payload, &p)
			runID := p.RunID
			if runID == "" {
				runID = "*"
			}
			ch := s.Broker.Subscribe(runID)
			done := make(chan struct{})
			subs[msg.ID] = sub{runID: runID, ch: ch, done: done}
			go func(id string) {
				for {
					select {
					case <-done:
						return
					case evt, ok := <-ch:
						if !ok {
							return
						}
						payload, _ := json.Marshal(map[string]any{"type": evt.Type, "data": evt.Data})
						if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
							return
						}
					}
				}
			}(msg.ID)
		case "complete":
			if sb, ok := subs[msg.ID]; ok {
				close(sb.done)
				s.Broker.Unsubscribe(sb.runID, sb.ch)
				delete(subs, msg.ID)
			}
		}
	}
}
