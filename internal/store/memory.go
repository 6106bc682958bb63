package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gasroute/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set and in
// tests. Master data is seeded through SeedSnapshot.
type Memory struct {
	mu         sync.Mutex
	snapshot   Snapshot
	schedules  map[string]model.GeneratedSchedule
	order      []string // schedule ids, insertion order
	subs       map[string]model.Subscription
	deliveries map[string]*memDelivery
	planMx     map[string][]map[string]any // scheduleID -> entries
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
}

func NewMemory() *Memory {
	return &Memory{
		snapshot:   Snapshot{History: map[string][]model.DeliveryRecord{}},
		schedules:  map[string]model.GeneratedSchedule{},
		subs:       map[string]model.Subscription{},
		deliveries: map[string]*memDelivery{},
		planMx:     map[string][]map[string]any{},
	}
}

// SeedSnapshot replaces the master-data snapshot served to runs.
func (m *Memory) SeedSnapshot(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.History == nil {
		s.History = map[string][]model.DeliveryRecord{}
	}
	m.snapshot = s
}

func (m *Memory) LoadSnapshot(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Copy slices so a run never shares mutable state with later seeds.
	out := Snapshot{
		Customers: append([]model.Customer(nil), m.snapshot.Customers...),
		Drivers:   append([]model.Driver(nil), m.snapshot.Drivers...),
		Vehicles:  append([]model.Vehicle(nil), m.snapshot.Vehicles...),
		History:   make(map[string][]model.DeliveryRecord, len(m.snapshot.History)),
	}
	for k, v := range m.snapshot.History {
		out.History[k] = append([]model.DeliveryRecord(nil), v...)
	}
	return out, nil
}

func (m *Memory) SaveSchedule(_ context.Context, s model.GeneratedSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.schedules[s.ID]; !seen {
		m.order = append(m.order, s.ID)
	}
	m.schedules[s.ID] = s
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, id string) (model.GeneratedSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return model.GeneratedSchedule{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSchedules(_ context.Context, limit int) ([]model.GeneratedSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []model.GeneratedSchedule{}
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.schedules[m.order[i]])
	}
	return out, nil
}

func (m *Memory) CreateSubscription(_ context.Context, sub model.Subscription) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = uuid.New().String()
	m.subs[sub.ID] = sub
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(_ context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, sub := range m.subs {
		for _, e := range sub.Events {
			if e == eventType || e == "*" {
				out = append(out, sub)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListSubscriptions(_ context.Context, limit int) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []model.Subscription{}
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *Memory) EnqueueWebhook(_ context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:             id,
			SubscriptionID: subscriptionID,
			EventType:      eventType,
			URL:            url,
			Secret:         secret,
			Payload:        payload,
			Status:         "pending",
		},
		NextAttemptAt: time.Now(),
	}
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(_ context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	out := []WebhookDelivery{}
	for _, d := range m.deliveries {
		if d.Status == "pending" && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(_ context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		return nil
	}
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(_ context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) SavePlanMetrics(_ context.Context, scheduleID, teamID, algo string, metrics map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := map[string]any{"teamId": teamID, "algo": algo}
	for k, v := range metrics {
		entry[k] = v
	}
	m.planMx[scheduleID] = append(m.planMx[scheduleID], entry)
	return nil
}

func (m *Memory) ListPlanMetrics(_ context.Context, scheduleID string) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.planMx[scheduleID]...), nil
}
