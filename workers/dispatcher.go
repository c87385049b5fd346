// workers/dispatcher.go
package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"game-economy/services"
	"game-economy/utils"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Sink delivers one event somewhere outside the process.
type Sink interface {
	Deliver(ctx context.Context, e services.Event) error
}

// Dispatcher is a services.Notifier backed by a bounded queue and a fixed
// pool of workers. Publish never blocks: when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	mu     sync.RWMutex
	events chan services.Event
	closed bool
	sinks  []Sink
	size   int
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func NewDispatcher(workers, queue int, sinks ...Sink) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	return &Dispatcher{
		events: make(chan services.Event, queue),
		sinks:  sinks,
		size:   workers,
		log:    utils.Component("dispatcher"),
	}
}

// Start launches the workers. They exit when Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.size; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for e := range d.events {
		for _, s := range d.sinks {
			dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := s.Deliver(dctx, e); err != nil {
				d.log.Warn().Err(err).Str("type", string(e.Type)).Str("account", e.Account).Msg("event delivery failed")
			}
			cancel()
		}
	}
}

func (d *Dispatcher) Publish(e services.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.events <- e:
	default:
		utils.NotificationsDropped.Inc()
		d.log.Warn().Str("type", string(e.Type)).Str("account", e.Account).Msg("notification queue full, event dropped")
	}
}

// Close stops accepting events and waits for the queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// AsynqSink enqueues each event as an asynq task named after the event type.
type AsynqSink struct {
	Client *asynq.Client
	Queue  string
}

func NewAsynqSink(client *asynq.Client) *AsynqSink {
	return &AsynqSink{Client: client, Queue: "notifications"}
}

func (s *AsynqSink) Deliver(ctx context.Context, e services.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	task := asynq.NewTask(string(e.Type), payload)
	_, err = s.Client.EnqueueContext(ctx, task, asynq.Queue(s.Queue), asynq.MaxRetry(5))
	return err
}

// LogSink writes events to the log. Used when no queue is configured.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Deliver(_ context.Context, e services.Event) error {
	s.Log.Info().
		Str("type", string(e.Type)).
		Str("account", e.Account).
		Str("tournament", e.TournamentID).
		Int64("amount", e.Amount).
		Msg(e.Message)
	return nil
}
