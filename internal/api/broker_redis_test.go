package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func redisBrokerFixture(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBrokerFromClient(rdb)
}

func waitEvent(t *testing.T, ch chan RunEvent) RunEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed before event arrived")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return RunEvent{}
	}
}

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	b := redisBrokerFixture(t)

	run := b.Subscribe("r1")
	all := b.Subscribe("*")
	defer b.Unsubscribe("r1", run)
	defer b.Unsubscribe("*", all)

	b.Publish("r1", RunEvent{Type: "run.started", Data: map[string]any{"runId": "r1"}})
	require.Equal(t, "run.started", waitEvent(t, run).Type)
	require.Equal(t, "run.started", waitEvent(t, all).Type, "wildcard mirrors every run")
}

func TestRedisBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := redisBrokerFixture(t)

	gone := b.Subscribe("*")
	stay := b.Subscribe("r1")
	defer b.Unsubscribe("r1", stay)

	b.Unsubscribe("*", gone)

	// a departed subscriber must not take the broker down with it
	for i := 0; i < 3; i++ {
		b.Publish("r1", RunEvent{Type: "team.optimized"})
	}
	require.Equal(t, "team.optimized", waitEvent(t, stay).Type)

	// the reader goroutine closes the channel once its pubsub is closed
	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-gone:
		case <-deadline:
			t.Fatal("unsubscribed channel never closed")
		}
	}
}
