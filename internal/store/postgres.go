package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gasroute/internal/model"
)

// Postgres reads master data owned by the external CRUD layer and persists
// generated schedules, subscriptions and the webhook queue.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies *.sql files from dir in lexical order. Dev helper; a
// real deployment migrates out of band.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(data)); err != nil {
			return fmt.Errorf("migrate %s: %w", n, err)
		}
	}
	return nil
}

func (p *Postgres) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{History: map[string][]model.DeliveryRecord{}}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, address, lat, lng, windows, consumption_rate, priority_weight, service_time_sec
		FROM customers WHERE active`)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c model.Customer
		var windows []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.Location.Lat, &c.Location.Lng, &windows, &c.ConsumptionRate, &c.PriorityWeight, &c.ServiceTimeSec); err != nil {
			return Snapshot{}, err
		}
		if len(windows) > 0 {
			_ = json.Unmarshal(windows, &c.Windows)
		}
		snap.Customers = append(snap.Customers, c)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	drows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.name, COALESCE(json_agg(l.leave_date) FILTER (WHERE l.leave_date IS NOT NULL), '[]')
		FROM drivers d LEFT JOIN driver_leaves l ON l.driver_id = d.id
		WHERE d.active GROUP BY d.id, d.name`)
	if err != nil {
		return Snapshot{}, err
	}
	defer drows.Close()
	for drows.Next() {
		var d model.Driver
		var leaves []byte
		if err := drows.Scan(&d.ID, &d.Name, &leaves); err != nil {
			return Snapshot{}, err
		}
		var dates []string
		_ = json.Unmarshal(leaves, &dates)
		for _, s := range dates {
			if len(s) < 10 {
				continue
			}
			if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
				d.LeaveDates = append(d.LeaveDates, t)
			}
		}
		snap.Drivers = append(snap.Drivers, d)
	}
	if err := drows.Err(); err != nil {
		return Snapshot{}, err
	}

	vrows, err := p.db.QueryContext(ctx, `
		SELECT v.id, v.max_stops, v.home_lat, v.home_lng,
		       COALESCE(json_agg(json_build_object('start', m.starts_at, 'end', m.ends_at)) FILTER (WHERE m.id IS NOT NULL), '[]')
		FROM vehicles v LEFT JOIN vehicle_maintenance m ON m.vehicle_id = v.id
		WHERE v.active GROUP BY v.id, v.max_stops, v.home_lat, v.home_lng`)
	if err != nil {
		return Snapshot{}, err
	}
	defer vrows.Close()
	for vrows.Next() {
		var v model.Vehicle
		var maint []byte
		if err := vrows.Scan(&v.ID, &v.MaxStops, &v.HomeBase.Lat, &v.HomeBase.Lng, &maint); err != nil {
			return Snapshot{}, err
		}
		var wins []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		}
		_ = json.Unmarshal(maint, &wins)
		for _, w := range wins {
			v.Maintenance = append(v.Maintenance, model.TimeWindow{Start: w.Start, End: w.End})
		}
		snap.Vehicles = append(snap.Vehicles, v)
	}
	if err := vrows.Err(); err != nil {
		return Snapshot{}, err
	}

	hrows, err := p.db.QueryContext(ctx, `
		SELECT customer_id, delivered_at, quantity FROM deliveries ORDER BY customer_id, delivered_at`)
	if err != nil {
		return Snapshot{}, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var rec model.DeliveryRecord
		if err := hrows.Scan(&rec.CustomerID, &rec.DeliveredAt, &rec.Quantity); err != nil {
			return Snapshot{}, err
		}
		snap.History[rec.CustomerID] = append(snap.History[rec.CustomerID], rec)
	}
	return snap, hrows.Err()
}

func (p *Postgres) SaveSchedule(ctx context.Context, s model.GeneratedSchedule) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO schedules (id, plan_date, generated_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
		s.ID, s.Date, s.GeneratedAt, payload)
	return err
}

func (p *Postgres) GetSchedule(ctx context.Context, id string) (model.GeneratedSchedule, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM schedules WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GeneratedSchedule{}, ErrNotFound
	}
	if err != nil {
		return model.GeneratedSchedule{}, err
	}
	var s model.GeneratedSchedule
	if err := json.Unmarshal(payload, &s); err != nil {
		return model.GeneratedSchedule{}, err
	}
	return s, nil
}

func (p *Postgres) ListSchedules(ctx context.Context, limit int) ([]model.GeneratedSchedule, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT payload FROM schedules ORDER BY generated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.GeneratedSchedule{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var s model.GeneratedSchedule
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	sub.ID = uuid.New().String()
	events, _ := json.Marshal(sub.Events)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, url, events, secret) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.URL, events, sub.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, url, events, secret FROM subscriptions
		WHERE events::jsonb ? $1 OR events::jsonb ? '*' ORDER BY id`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	out := []model.Subscription{}
	for rows.Next() {
		var sub model.Subscription
		var events []byte
		if err := rows.Scan(&sub.ID, &sub.URL, &events, &sub.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(events, &sub.Events)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, now())`,
		id, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, subscription_id, event_type, url, secret, payload, status, attempts
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	status := "pending"
	if success {
		status = "delivered"
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = attempts + 1, next_attempt_at = COALESCE($3, next_attempt_at),
		    last_error = $4, response_code = $5, latency_ms = $6
		WHERE id = $1`,
		id, status, nextAttemptAt, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', attempts = attempts + 1, last_error = $2, response_code = $3, latency_ms = $4
		WHERE id = $1`,
		id, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, scheduleID, teamID, algo string, metrics map[string]any) error {
	payload, _ := json.Marshal(metrics)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plan_metrics (id, schedule_id, team_id, algo, metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		uuid.New().String(), scheduleID, teamID, algo, payload)
	return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, scheduleID string) ([]map[string]any, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT team_id, algo, metrics FROM plan_metrics WHERE schedule_id = $1 ORDER BY team_id`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		var teamID, algo string
		var payload []byte
		if err := rows.Scan(&teamID, &algo, &payload); err != nil {
			return nil, err
		}
		entry := map[string]any{"teamId": teamID, "algo": algo}
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err == nil {
			for k, v := range m {
				entry[k] = v
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
