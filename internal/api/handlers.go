package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gasroute/internal/buildinfo"
	"gasroute/internal/config"
	"gasroute/internal/model"
	"gasroute/internal/store"
)

// GenerateHandler handles POST /v1/schedules/generate. A run is synchronous;
// progress events stream on the run channel while the request is in flight.
func (s *Server) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.genLimiter.Allow() {
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "schedule generation limit reached, retry later", r.URL.Path)
		return
	}
	var req model.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateScheduleRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid schedule request", err.Error(), r.URL.Path)
		return
	}
	schedule, err := s.pipeline().Run(r.Context(), req)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Schedule generation failed", err.Error(), r.URL.Path)
		return
	}
	s.Pub.Emit(r.Context(), "schedule.generated", map[string]any{
		"scheduleId": schedule.ID,
		"date":       schedule.Date.Format("2006-01-02"),
		"served":     schedule.ServedCount,
		"dropped":    len(schedule.Dropped),
		"totalKm":    schedule.TotalKm,
	})
	writeJSON(w, http.StatusOK, schedule)
}

// SchedulesHandler handles GET /v1/schedules
func (s *Server) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/schedules" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListSchedules(r.Context(), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List schedules failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ScheduleByIDHandler handles GET /v1/schedules/{id} and
// GET /v1/schedules/{id}/events/stream (SSE).
func (s *Server) ScheduleByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedules/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		s.streamRunEvents(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	schedule, err := s.Store.GetSchedule(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Schedule not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Get schedule failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(runID)
	defer s.Broker.Unsubscribe(runID, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"runId\":\"%s\",\"ts\":\"%s\"}\n\n", runID, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"runId\":\"%s\",\"ts\":\"%s\"}\n\n", runID, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// schedulerConfigUpdate carries the tunables PUT /v1/scheduler/config may
// change at runtime. Pointer fields distinguish "absent" from zero.
type schedulerConfigUpdate struct {
	SolverStopThreshold *int      `json:"solverStopThreshold"`
	SolverModes         *[]string `json:"solverModes"`
	TimeBudgetMs        *int64    `json:"timeBudgetMs"`
	HorizonDays         *int      `json:"horizonDays"`
	WarnUtilization     *float64  `json:"warnUtilization"`
	SlotMinutes         *int      `json:"slotMinutes"`
	PerSlotPerTeam      *int      `json:"perSlotPerTeam"`
}

// SchedulerConfigHandler returns (GET) or tunes (PUT) the effective
// scheduling configuration. PUT changes apply to subsequent runs only.
func (s *Server) SchedulerConfigHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeSchedulerConfig(w, s.configSnapshot())
	case http.MethodPut:
		var upd schedulerConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		cfg, err := s.updateConfig(func(c *config.Config) {
			if upd.SolverStopThreshold != nil {
				c.Optimizer.SolverStopThreshold = *upd.SolverStopThreshold
			}
			if upd.SolverModes != nil {
				c.Optimizer.SolverModes = *upd.SolverModes
			}
			if upd.TimeBudgetMs != nil {
				c.Optimizer.TimeBudget = time.Duration(*upd.TimeBudgetMs) * time.Millisecond
			}
			if upd.HorizonDays != nil {
				c.Forecast.HorizonDays = *upd.HorizonDays
			}
			if upd.WarnUtilization != nil {
				c.WarnUtilization = *upd.WarnUtilization
			}
			if upd.SlotMinutes != nil {
				c.Slots.SlotMinutes = *upd.SlotMinutes
			}
			if upd.PerSlotPerTeam != nil {
				c.Slots.PerSlotPerTeam = *upd.PerSlotPerTeam
			}
		})
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid configuration", err.Error(), r.URL.Path)
			return
		}
		writeSchedulerConfig(w, cfg)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeSchedulerConfig(w http.ResponseWriter, cfg config.Config) {
	o := cfg.Optimizer
	writeJSON(w, http.StatusOK, map[string]any{
		"slots": map[string]any{
			"dayStartHour":   cfg.Slots.DayStartHour,
			"dayEndHour":     cfg.Slots.DayEndHour,
			"slotMinutes":    cfg.Slots.SlotMinutes,
			"perSlotPerTeam": cfg.Slots.PerSlotPerTeam,
		},
		"optimizer": map[string]any{
			"solverStopThreshold": o.SolverStopThreshold,
			"solverModes":         o.SolverModes,
			"timeBudgetMs":        o.TimeBudget.Milliseconds(),
			"initTemp":            o.InitialTemp,
			"cooling":             o.Cooling,
		},
		"forecast": map[string]any{
			"horizonDays": cfg.Forecast.HorizonDays,
		},
		"warnUtilization": cfg.WarnUtilization,
	})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var sub model.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if sub.URL == "" || len(sub.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events are required", r.URL.Path)
			return
		}
		created, err := s.Store.CreateSubscription(r.Context(), sub)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, err := s.Store.ListSubscriptions(r.Context(), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Subscription not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics?scheduleId=...
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	scheduleID := r.URL.Query().Get("scheduleId")
	if scheduleID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing scheduleId", "", r.URL.Path)
		return
	}
	items, err := s.Store.ListPlanMetrics(r.Context(), scheduleID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List plan metrics failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.Store.ListSchedules(ctx, 1); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
