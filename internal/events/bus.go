package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/examsift/grading-engine/internal/store"
	"github.com/examsift/grading-engine/internal/store/model"
)

const (
	watchBatchSize = 128
	// watchers re-check the durable log on a short jittered period even
	// without a wake-up, to catch completion they may have missed.
	watchPollPeriod = 500 * time.Millisecond
	watchPollJitter = 100 * time.Millisecond
	// a consumer not draining its channel for this long is dropped from the
	// fan-out set; it can catch up from the log later.
	deliverTimeout = 5 * time.Second
)

// Bus is the per-run ordered event queue. The execution driver is the sole
// producer; any number of watchers drain it. Every event is appended to the
// durable log before any live delivery, so watchers always observe a gap-free,
// strictly increasing sequence.
type Bus struct {
	store store.Event

	mu       sync.Mutex
	seqs     map[uuid.UUID]uint64
	appends  map[uuid.UUID]*sync.Mutex
	watchers map[uuid.UUID]map[*Watcher]struct{}
}

func NewBus(eventStore store.Event) *Bus {
	return &Bus{
		store:    eventStore,
		seqs:     make(map[uuid.UUID]uint64),
		appends:  make(map[uuid.UUID]*sync.Mutex),
		watchers: make(map[uuid.UUID]map[*Watcher]struct{}),
	}
}

// runLock returns the mutex serializing appends for one run. Allocation and
// the durable append must commit under the same lock, otherwise two producers
// (the run goroutine and a cancellation caller) can commit out of order and a
// watcher reading between the commits would skip the earlier sequence.
func (b *Bus) runLock(runID uuid.UUID) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.appends[runID]
	if !ok {
		lock = &sync.Mutex{}
		b.appends[runID] = lock
	}
	return lock
}

// Publish appends an event to the run's durable log and wakes live watchers.
// Sequence numbers continue from the log across process restarts and
// pause/resume cycles; pre-pause numbers are never re-issued.
func (b *Bus) Publish(ctx context.Context, runID uuid.UUID, kind, stage string, payload any) (Event, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return Event{}, fmt.Errorf("marshaling event payload: %w", err)
		}
	}

	lock := b.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	b.mu.Lock()
	seq, ok := b.seqs[runID]
	b.mu.Unlock()
	if !ok {
		last, err := b.store.LastSequence(ctx, runID)
		if err != nil {
			return Event{}, err
		}
		seq = last
	}
	seq++

	appended, err := b.store.Append(ctx, model.RunEvent{
		RunID:    runID,
		Sequence: seq,
		Kind:     kind,
		Stage:    stage,
		Payload:  data,
	})
	if err != nil {
		return Event{}, err
	}

	b.mu.Lock()
	b.seqs[runID] = seq
	b.mu.Unlock()

	b.wake(runID)
	return FromModel(*appended), nil
}

func (b *Bus) wake(runID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.watchers[runID] {
		select {
		case w.notify <- struct{}{}:
		default:
			// watcher already has a pending wake-up
		}
	}
}

// Watch streams the run's events starting strictly after the given sequence.
// The channel is closed after the end-of-stream marker is delivered or the
// context ends. Events are read from the durable log, so a watcher attached
// late catches up without gaps, and a pause produces silence, not a close.
func (b *Bus) Watch(ctx context.Context, runID uuid.UUID, afterSequence uint64) *Watcher {
	w := &Watcher{
		ch:     make(chan Event, watchBatchSize),
		notify: make(chan struct{}, 1),
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	b.mu.Lock()
	if b.watchers[runID] == nil {
		b.watchers[runID] = make(map[*Watcher]struct{})
	}
	b.watchers[runID][w] = struct{}{}
	b.mu.Unlock()

	go b.watchLoop(watchCtx, runID, afterSequence, w)
	return w
}

func (b *Bus) watchLoop(ctx context.Context, runID uuid.UUID, after uint64, w *Watcher) {
	defer func() {
		b.detach(runID, w)
		close(w.ch)
	}()

	ticker := jitterbug.New(watchPollPeriod, &jitterbug.Norm{Stdev: watchPollJitter})
	defer ticker.Stop()

	next := after
	for {
		batch, err := b.store.ListAfter(ctx, runID, next, watchBatchSize)
		if err != nil {
			zap.S().Named("events").Errorw("failed to read event log", "run_id", runID, "error", err)
			return
		}
		for _, m := range batch {
			e := FromModel(m)
			if !w.deliver(ctx, e) {
				zap.S().Named("events").Warnw("dropping slow event consumer", "run_id", runID, "sequence", e.Sequence)
				return
			}
			next = e.Sequence
			if e.EndOfStream() {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		case <-ticker.C:
		}
	}
}

func (b *Bus) detach(runID uuid.UUID, w *Watcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watchers[runID], w)
	if len(b.watchers[runID]) == 0 {
		delete(b.watchers, runID)
	}
}

// Watcher is one consumer of a run's event stream.
type Watcher struct {
	ch     chan Event
	notify chan struct{}
	cancel context.CancelFunc
}

// Events is the ordered stream; closed on end-of-stream or cancellation.
func (w *Watcher) Events() <-chan Event {
	return w.ch
}

// Close detaches the watcher.
func (w *Watcher) Close() {
	w.cancel()
}

func (w *Watcher) deliver(ctx context.Context, e Event) bool {
	t := time.NewTimer(deliverTimeout)
	defer t.Stop()
	select {
	case w.ch <- e:
		return true
	case <-ctx.Done():
		return false
	case <-t.C:
		return false
	}
}
