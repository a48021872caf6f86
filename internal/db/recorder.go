package db

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/events"
)

// maxPendingErrors bounds the error buffer between flushes; a scanner
// flood keeps the newest errors only.
const maxPendingErrors = 1000

// Recorder aggregates request and error events in memory and writes them
// to a StatsDatabase on Flush.
type Recorder struct {
	store  *StatsDatabase
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	counts  map[CountKey]int64
	errors  []ProtocolErrorRecord
	dropped int
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *StatsDatabase) *Recorder {
	return &Recorder{
		store:  store,
		now:    time.Now,
		logger: log.With().Str("component", "stats_recorder").Logger(),
		counts: make(map[CountKey]int64),
	}
}

// Subscribe registers the recorder on the bus.
func (r *Recorder) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventRequestServed, "stats_recorder", r.HandleEvent)
	bus.Subscribe(events.EventProtocolError, "stats_recorder", r.HandleEvent)
}

// HandleEvent records one event. Other event types are ignored.
func (r *Recorder) HandleEvent(ctx context.Context, e events.Event) error {
	at := e.Time
	if at.IsZero() {
		at = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch p := e.Payload.(type) {
	case events.RequestServedPayload:
		r.counts[CountKey{Day: DayOf(at), Kind: p.Kind}]++

	case events.ProtocolErrorPayload:
		r.counts[CountKey{Day: DayOf(at), Kind: KindError}]++
		if len(r.errors) >= maxPendingErrors {
			r.errors = r.errors[1:]
			r.dropped++
		}
		r.errors = append(r.errors, ProtocolErrorRecord{
			Remote:    p.Remote,
			Reason:    p.Reason,
			State:     p.State,
			Message:   p.Message,
			CreatedAt: at,
		})
	}
	return nil
}

// Pending returns the number of buffered counter increments and errors.
func (r *Recorder) Pending() (counts int64, errors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.counts {
		counts += n
	}
	return counts, len(r.errors)
}

// Flush writes the buffered data. On failure the data is kept for the
// next attempt.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	counts, errs, dropped := r.counts, r.errors, r.dropped
	r.counts = make(map[CountKey]int64)
	r.errors = nil
	r.dropped = 0
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn().Int("dropped", dropped).Msg("protocol error buffer overflowed")
	}

	if err := r.store.AddCounts(counts); err != nil {
		r.restore(counts, errs)
		return err
	}
	if err := r.store.InsertErrors(errs); err != nil {
		r.restore(nil, errs)
		return err
	}

	if len(counts) > 0 || len(errs) > 0 {
		r.logger.Debug().Int("counters", len(counts)).Int("errors", len(errs)).Msg("statistics flushed")
	}
	return nil
}

func (r *Recorder) restore(counts map[CountKey]int64, errs []ProtocolErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, n := range counts {
		r.counts[k] += n
	}
	r.errors = append(errs, r.errors...)
	if over := len(r.errors) - maxPendingErrors; over > 0 {
		r.errors = r.errors[over:]
	}
}
