package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gasroute/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []failRec
}

type markRec struct {
	ID      string
	Success bool
	Code    int
}

type failRec struct {
	ID   string
	Code int
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, failRec{ID: id, Code: responseCode})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Log: zerolog.Nop(), Stop: make(chan struct{}), MaxAttempts: 3}
	body := []byte(`{"id":"evt1"}`)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "", "schedule.generated", srv.URL, "secret", body)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	w.processOnce()

	require.Equal(t, SignHMAC("secret", body), gotSig)
	require.Equal(t, "schedule.generated", gotType)
	require.NotEmpty(t, rs.marks)
	require.True(t, rs.marks[0].Success)
}

func TestWorkerProcessOnce_FailAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Log: zerolog.Nop(), Stop: make(chan struct{}), MaxAttempts: 1}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), "", "schedule.generated", srv.URL, "", []byte(`{}`))

	w.processOnce()

	require.NotEmpty(t, rs.fails)
	require.Equal(t, 500, rs.fails[0].Code)
}

func TestSignAndVerifyHMAC(t *testing.T) {
	body := []byte(`{"type":"schedule.generated"}`)
	sig := SignHMAC("s3cret", body)
	require.True(t, VerifyHMAC("s3cret", body, sig))
	require.False(t, VerifyHMAC("other", body, sig))
}

func TestNextBackoffCapped(t *testing.T) {
	require.Equal(t, time.Second, nextBackoff(0))
	require.Equal(t, 4*time.Second, nextBackoff(2))
	require.Equal(t, 1024*time.Second, nextBackoff(20))
}
