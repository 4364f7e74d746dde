package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"
)

func methodGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return false
	}
	return true
}

// /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodGET(w, r) {
		return
	}
	state := "stopped"
	switch {
	case s.status.Died():
		state = "died"
	case s.status.Running():
		state = "running"
	}
	var last string
	if t := s.status.LastUpdate(); !t.IsZero() {
		last = t.UTC().Format(time.RFC3339Nano)
	}
	code := http.StatusOK
	if state == "died" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":          state != "died",
		"state":       state,
		"session":     s.session,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"last_update": last,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// /api/v1/telemetry
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !methodGET(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": s.status.Model().Get()})
}

type channelView struct {
	Profile    string `json:"profile"`
	Channel    uint8  `json:"channel"`
	DeviceID   uint16 `json:"device_id"`
	DeviceType uint8  `json:"device_type"`
	Period     uint16 `json:"period"`
	State      string `json:"state"`
	LastPage   string `json:"last_page"`
}

// /api/v1/channels
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if !methodGET(w, r) {
		return
	}
	chans := s.status.Channels()
	out := make([]channelView, 0, len(chans))
	for _, c := range chans {
		p := c.Profile()
		page := c.LastPage()
		out = append(out, channelView{
			Profile:    p.Name,
			Channel:    p.Channel,
			DeviceID:   p.DeviceID(),
			DeviceType: p.DeviceType,
			Period:     p.Period,
			State:      c.State().String(),
			LastPage:   fmt.Sprintf("% x", page[:]),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": out})
}

type uiEvent struct {
	ID       string          `json:"id"`
	DeviceID string          `json:"device_id"`
	Topic    string          `json:"topic"`
	Time     time.Time       `json:"time"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) pull(after time.Time, max int) []uiEvent {
	evs := s.evbuf.Pull(after, max)
	out := make([]uiEvent, 0, len(evs))
	for _, e := range evs {
		p := json.RawMessage(e.Payload)
		if !json.Valid(p) {
			b, _ := json.Marshal(string(e.Payload))
			p = b
		}
		out = append(out, uiEvent{ID: e.ID, DeviceID: e.DeviceID, Topic: e.Topic, Time: e.Time, Payload: p})
	}
	return out
}

// /api/v1/events?after=<RFC3339Nano>&max=<n>
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !methodGET(w, r) {
		return
	}
	if s.evbuf == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "events buffer not enabled"})
		return
	}
	var after time.Time
	if v := r.URL.Query().Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad 'after'"})
			return
		}
		after = t
	}
	max := 100
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad 'max'"})
			return
		}
		max = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": s.pull(after, max)})
}

// /api/v1/events/stream — SSE
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.evbuf == nil {
		http.Error(w, "events buffer not enabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte(": welcome\n\n"))
	flusher.Flush()

	last := time.Now().Add(-time.Second)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[web] sse: client disconnected")
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-poll.C:
			evs := s.pull(last, 100)
			if len(evs) == 0 {
				continue
			}
			last = evs[len(evs)-1].Time
			for _, e := range evs {
				data, err := json.Marshal(e)
				if err != nil {
					log.Printf("[web] sse: marshal error: %v", err)
					continue
				}
				_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Topic, data)
			}
			flusher.Flush()
		}
	}
}
