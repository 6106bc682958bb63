package store

import (
	"context"
	"errors"
	"time"

	"gasroute/internal/model"
)

// Snapshot is the read-only view of master data one scheduling run operates
// on. It is fetched once at run start; concurrent external mutations are not
// observed until the next run.
type Snapshot struct {
	Customers []model.Customer
	Drivers   []model.Driver
	Vehicles  []model.Vehicle
	History   map[string][]model.DeliveryRecord // customerID -> past deliveries
}

// Store is the persistence interface used by the API server. Master records
// are owned by an external CRUD layer; this service only reads them and
// persists its own outputs.
type Store interface {
	// Snapshot of master data for one run.
	LoadSnapshot(ctx context.Context) (Snapshot, error)

	// Generated schedules
	SaveSchedule(ctx context.Context, s model.GeneratedSchedule) error
	GetSchedule(ctx context.Context, id string) (model.GeneratedSchedule, error)
	ListSchedules(ctx context.Context, limit int) ([]model.GeneratedSchedule, error)

	// Webhook subscriptions
	CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

	// Per-run solver metrics
	SavePlanMetrics(ctx context.Context, scheduleID, teamID, algo string, metrics map[string]any) error
	ListPlanMetrics(ctx context.Context, scheduleID string) ([]map[string]any, error)
}

// WebhookDelivery is one queued outbound webhook attempt.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}

var ErrNotFound = errors.New("not found")
