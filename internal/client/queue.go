package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/miel-team/nextmatch-reveal/internal/queue"
	"github.com/miel-team/nextmatch-reveal/internal/realtime"
	"github.com/miel-team/nextmatch-reveal/internal/repository"
)

// TransitionAPI is the slice of APIClient the queue needs; declared as an
// interface so tests can count calls without a server.
type TransitionAPI interface {
	FetchPending(ctx context.Context) ([]Reveal, error)
	MarkSeen(ctx context.Context, revealID uint64) error
	MarkDismissed(ctx context.Context, revealID uint64) error
}

// RevealQueue is the single consumer-side authority for "what reveal, if
// any, is currently being shown". Reveals arrive from two independent
// paths (the live channel and the recovery query) and the queue
// collapses them by match id, presents them strictly one at a time, and
// drives the server-side transitions at the right moments: seen fires the
// instant an item becomes current, dismiss when the user closes it.
//
// The queue is a cache, never the source of truth: dropping it and
// rebuilding from FetchPending is always safe. The dedup set is
// session-scoped; across a reload the server-side status (already
// REVEALED) is what prevents repeat delivery via the pending set.
type RevealQueue struct {
	mu       sync.Mutex
	api      TransitionAPI
	current  *Reveal
	waiting  []Reveal
	rendered map[uint64]struct{} // match ids delivered this session

	// backoff holds the waits between seen attempts; len(backoff) bounds
	// the retries. Overridden in tests to avoid real sleeps.
	backoff []time.Duration
	sleep   func(time.Duration)

	// wg tracks in-flight transition goroutines so tests can join them.
	wg sync.WaitGroup
}

// NewRevealQueue returns an empty queue driving transitions through api.
func NewRevealQueue(api TransitionAPI) *RevealQueue {
	return &RevealQueue{
		api:      api,
		rendered: make(map[uint64]struct{}),
		backoff:  []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		sleep:    time.Sleep,
	}
}

// Enqueue offers one reveal to the queue. A match id already delivered
// this session is dropped: the same match legitimately arrives twice
// when a live event and a recovery fetch overlap, and both must collapse
// to one presentation. If nothing is showing and nothing is queued, the
// reveal is promoted immediately and seen fires right away
// (display-time = seen-time); otherwise it waits its turn in FIFO order.
func (q *RevealQueue) Enqueue(r Reveal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.rendered[r.MatchID]; dup {
		return
	}
	q.rendered[r.MatchID] = struct{}{}
	if q.current == nil && len(q.waiting) == 0 {
		q.show(r)
		return
	}
	q.waiting = append(q.waiting, r)
}

// Dismiss closes the currently displayed reveal. The dismiss call is
// fire-and-forget and the queue advances immediately regardless of its
// outcome: a failed dismissal only risks the item resurfacing later via
// recovery, which is accepted, while presentation order stays intact.
func (q *RevealQueue) Dismiss() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return
	}
	id := q.current.ID
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := q.api.MarkDismissed(ctx, id); err != nil {
			log.Printf("reveal-queue: dismiss %d failed: %v", id, err)
		}
	}()
	q.advance()
}

// advance pops the next waiting reveal into current, firing seen for it,
// or clears current when the queue is empty. Caller holds the lock.
func (q *RevealQueue) advance() {
	if len(q.waiting) == 0 {
		q.current = nil
		return
	}
	next := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.show(next)
}

// show makes r the current reveal and fires the seen transition. Seen is
// fired at the start of the presentation so an abandoned session still
// leaves the row REVEALED. Caller holds the lock.
func (q *RevealQueue) show(r Reveal) {
	q.current = &r
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.fireSeen(r.ID)
	}()
}

// fireSeen drives the seen call with bounded exponential backoff on
// transient failures. A conflict is terminal: the server already
// considers the reveal handled (or not ours), and retrying cannot change
// that. After the attempts are exhausted the failure is logged and
// swallowed; the user has already seen the content, and recovery will
// reconcile the row later.
func (q *RevealQueue) fireSeen(revealID uint64) {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := q.api.MarkSeen(ctx, revealID)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ErrConflict) {
			log.Printf("reveal-queue: seen %d conflicted; not retrying", revealID)
			return
		}
		if attempt >= len(q.backoff) {
			log.Printf("reveal-queue: seen %d failed after %d attempts: %v", revealID, attempt+1, err)
			return
		}
		q.sleep(q.backoff[attempt])
	}
}

// LoadPending fetches the recovery list and enqueues every item. Called
// once per mount and on reconnect; the match-id dedup silently drops
// anything already delivered live in this session.
func (q *RevealQueue) LoadPending(ctx context.Context) error {
	reveals, err := q.api.FetchPending(ctx)
	if err != nil {
		return err
	}
	for _, r := range reveals {
		q.Enqueue(r)
	}
	return nil
}

// Bind attaches the queue's reveal.ready handler to a shared realtime
// subscription. Only our own event name is bound; the subscription may
// carry other subsystems' events and its lifecycle is not ours to manage.
// The live event names its reveal field reveal_id where the recovery
// payload uses id, so the handler decodes the event shape and converts.
func (q *RevealQueue) Bind(sub *realtime.Subscription) {
	sub.Bind("reveal.ready", func(data json.RawMessage) {
		var ev queue.RevealReadyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("reveal-queue: drop malformed reveal.ready: %v", err)
			return
		}
		q.Enqueue(Reveal{
			ID:            ev.RevealID,
			MatchID:       ev.MatchID,
			VideoSnapshot: ev.VideoSnapshot,
			OtherUser: repository.OtherUser{
				ID:    ev.OtherUser.ID,
				Name:  ev.OtherUser.Name,
				Image: ev.OtherUser.Image,
				City:  ev.OtherUser.City,
			},
		})
	})
}

// Unbind detaches the reveal.ready handler, leaving the shared channel
// untouched for its other listeners.
func (q *RevealQueue) Unbind(sub *realtime.Subscription) {
	sub.Unbind("reveal.ready")
}

// Current returns a copy of the reveal being shown, or nil.
func (q *RevealQueue) Current() *Reveal {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	cp := *q.current
	return &cp
}

// Len reports how many reveals are waiting behind the current one.
func (q *RevealQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Wait blocks until all in-flight transition calls have finished. Test
// helper; production callers never need to join the fire-and-forget work.
func (q *RevealQueue) Wait() {
	q.wg.Wait()
}
