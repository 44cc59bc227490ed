package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records transition calls and serves a scripted pending list.
type fakeAPI struct {
	mu          sync.Mutex
	seen        []uint64
	dismissed   []uint64
	pending     []Reveal
	seenErrs    map[uint64][]error // scripted per-reveal errors, consumed in order
	dismissErr  error
	fetchErr    error
	seenAttempt map[uint64]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{seenErrs: map[uint64][]error{}, seenAttempt: map[uint64]int{}}
}

func (f *fakeAPI) FetchPending(ctx context.Context) ([]Reveal, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.pending, nil
}

func (f *fakeAPI) MarkSeen(ctx context.Context, revealID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenAttempt[revealID]++
	if errs := f.seenErrs[revealID]; len(errs) > 0 {
		err := errs[0]
		f.seenErrs[revealID] = errs[1:]
		return err
	}
	f.seen = append(f.seen, revealID)
	return nil
}

func (f *fakeAPI) MarkDismissed(ctx context.Context, revealID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, revealID)
	return f.dismissErr
}

func (f *fakeAPI) attempts(revealID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seenAttempt[revealID]
}

func newTestQueue(api TransitionAPI) *RevealQueue {
	q := NewRevealQueue(api)
	q.backoff = []time.Duration{0, 0, 0} // no real sleeps in tests
	q.sleep = func(time.Duration) {}
	return q
}

func reveal(id, matchID uint64) Reveal {
	return Reveal{ID: id, MatchID: matchID}
}

func TestEnqueue_PromotesFirstRevealAndFiresSeen(t *testing.T) {
	api := newFakeAPI()
	q := newTestQueue(api)

	q.Enqueue(reveal(10, 1))
	q.Wait()

	cur := q.Current()
	require.NotNil(t, cur)
	assert.Equal(t, uint64(10), cur.ID)
	assert.Equal(t, []uint64{10}, api.seen, "seen fires the moment the reveal becomes current")
	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_LaterRevealsWaitInFIFOOrder(t *testing.T) {
	api := newFakeAPI()
	q := newTestQueue(api)

	q.Enqueue(reveal(10, 1))
	q.Enqueue(reveal(20, 2))
	q.Enqueue(reveal(30, 3))
	q.Wait()

	// Only the promoted reveal has been seen; the rest are queued.
	assert.Equal(t, []uint64{10}, api.seen)
	assert.Equal(t, 2, q.Len())

	q.Dismiss()
	q.Wait()
	require.NotNil(t, q.Current())
	assert.Equal(t, uint64(20), q.Current().ID)

	q.Dismiss()
	q.Wait()
	require.NotNil(t, q.Current())
	assert.Equal(t, uint64(30), q.Current().ID)

	q.Dismiss()
	q.Wait()
	assert.Nil(t, q.Current())
	assert.Equal(t, []uint64{10, 20, 30}, api.seen)
	assert.Equal(t, []uint64{10, 20, 30}, api.dismissed)
}

func TestEnqueue_DeduplicatesByMatchID(t *testing.T) {
	api := newFakeAPI()
	q := newTestQueue(api)

	// Same match arrives via the live channel and again via recovery with
	// the same reveal id; only one presentation may happen.
	q.Enqueue(reveal(10, 1))
	q.Enqueue(reveal(10, 1))
	q.Wait()

	assert.Equal(t, []uint64{10}, api.seen)
	assert.Equal(t, 0, q.Len())

	q.Dismiss()
	q.Wait()
	assert.Nil(t, q.Current(), "duplicate must not be queued behind the original")
}

func TestDismiss_AdvancesEvenWhenCallFails(t *testing.T) {
	api := newFakeAPI()
	api.dismissErr = errors.New("server exploded")
	q := newTestQueue(api)

	q.Enqueue(reveal(10, 1))
	q.Enqueue(reveal(20, 2))
	q.Dismiss()
	q.Wait()

	require.NotNil(t, q.Current())
	assert.Equal(t, uint64(20), q.Current().ID, "presentation advances optimistically")
	assert.Equal(t, []uint64{10}, api.dismissed)
}

func TestDismiss_NoCurrentIsNoop(t *testing.T) {
	api := newFakeAPI()
	q := newTestQueue(api)

	q.Dismiss()
	q.Wait()
	assert.Empty(t, api.dismissed)
}

func TestFireSeen_RetriesTransientFailures(t *testing.T) {
	api := newFakeAPI()
	transient := errors.New("gateway timeout")
	api.seenErrs[10] = []error{transient, transient}
	q := newTestQueue(api)

	q.Enqueue(reveal(10, 1))
	q.Wait()

	assert.Equal(t, 3, api.attempts(10), "two transient failures then success")
	assert.Equal(t, []uint64{10}, api.seen)
}

func TestFireSeen_GivesUpAfterBackoffExhausted(t *testing.T) {
	api := newFakeAPI()
	transient := errors.New("gateway timeout")
	api.seenErrs[10] = []error{transient, transient, transient, transient}
	q := newTestQueue(api)

	q.Enqueue(reveal(10, 1))
	q.Wait()

	// Initial attempt plus one retry per backoff step, then swallowed.
	assert.Equal(t, 4, api.attempts(10))
	assert.Empty(t, api.seen)
	require.NotNil(t, q.Current(), "presentation is unaffected by the failure")
}

func TestFireSeen_ConflictIsTerminal(t *testing.T) {
	api := newFakeAPI()
	api.seenErrs[10] = []error{ErrConflict}
	q := newTestQueue(api)

	q.Enqueue(reveal(10, 1))
	q.Wait()

	assert.Equal(t, 1, api.attempts(10), "conflicts are never retried")
}

func TestLoadPending_EnqueuesAndDedupsAgainstLiveDelivery(t *testing.T) {
	api := newFakeAPI()
	api.pending = []Reveal{reveal(10, 1), reveal(20, 2), reveal(30, 3)}
	q := newTestQueue(api)

	// Match 2 already arrived over the live channel this session.
	q.Enqueue(reveal(20, 2))
	require.NoError(t, q.LoadPending(context.Background()))
	q.Wait()

	// Current is the live one; only matches 1 and 3 joined the queue.
	require.NotNil(t, q.Current())
	assert.Equal(t, uint64(20), q.Current().ID)
	assert.Equal(t, 2, q.Len())

	q.Dismiss()
	q.Wait()
	assert.Equal(t, uint64(10), q.Current().ID)
}

func TestLoadPending_PropagatesFetchError(t *testing.T) {
	api := newFakeAPI()
	api.fetchErr = errors.New("network down")
	q := newTestQueue(api)

	assert.Error(t, q.LoadPending(context.Background()))
	assert.Nil(t, q.Current())
}
