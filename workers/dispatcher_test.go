package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"game-economy/services"
	"game-economy/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	events []services.Event
	err    error
}

func (s *memorySink) Deliver(_ context.Context, e services.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	failing := &memorySink{err: errors.New("downstream unavailable")}
	ok := &memorySink{}
	d := NewDispatcher(2, 16, failing, ok)
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		d.Publish(services.Event{Type: services.EventRewardCredited, Amount: int64(i)})
	}
	d.Close()

	assert.Equal(t, 5, failing.Len())
	assert.Equal(t, 5, ok.Len())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(1, 1, sink)
	dropped := testutil.ToFloat64(utils.NotificationsDropped)

	// nothing drains the queue until Start
	d.Publish(services.Event{Type: services.EventRewardCredited, Account: "first"})
	d.Publish(services.Event{Type: services.EventRewardCredited, Account: "second"})
	d.Publish(services.Event{Type: services.EventRewardCredited, Account: "third"})
	assert.Equal(t, dropped+2, testutil.ToFloat64(utils.NotificationsDropped))

	d.Start(context.Background())
	d.Close()
	require.Equal(t, 1, sink.Len())
	assert.Equal(t, "first", sink.events[0].Account)

	// closed dispatchers ignore events
	d.Publish(services.Event{Type: services.EventRewardCredited})
	d.Close()
	assert.Equal(t, 1, sink.Len())
}

func TestAsynqSinkEnqueuesTask(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sink := NewAsynqSink(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e := services.Event{
		Type:    services.EventRewardCredited,
		Account: "0xA11ce00000000000000000000000000000000001",
		Amount:  42,
		Message: "You received 42 premium coins",
	}
	require.NoError(t, sink.Deliver(ctx, e))

	pending, err := mr.List("asynq:{notifications}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	msg := mr.HGet("asynq:{notifications}:t:"+pending[0], "msg")
	assert.NotEmpty(t, msg)
}

func TestLogSinkNeverFails(t *testing.T) {
	sink := LogSink{Log: utils.Component("test")}
	assert.NoError(t, sink.Deliver(context.Background(), services.Event{Type: services.EventTournamentSettled, Message: "done"}))
}
