package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miel-team/nextmatch-reveal/internal/model"
)

type fakeRevealSource struct {
	rows []model.MatchReveal
	err  error
}

func (f *fakeRevealSource) ByMatch(ctx context.Context, matchID uint64) ([]model.MatchReveal, error) {
	return f.rows, f.err
}

type fakeUserSource struct {
	users map[uint64]*model.User
}

func (f *fakeUserSource) DisplayByID(ctx context.Context, id uint64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type published struct {
	userID  uint64
	event   string
	payload interface{}
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, userID uint64, event string, payload interface{}) error {
	f.sent = append(f.sent, published{userID: userID, event: event, payload: payload})
	return f.err
}

func strptr(s string) *string { return &s }

func matchRows(matchID uint64) []model.MatchReveal {
	now := time.Now().UTC()
	return []model.MatchReveal{
		{ID: 100, MatchID: matchID, OwnerUserID: 1, OtherUserID: 2, Status: model.RevealPending, CreatedAt: now},
		{ID: 101, MatchID: matchID, OwnerUserID: 2, OtherUserID: 1, VideoSnapshot: strptr("snap.mp4"), Status: model.RevealPending, CreatedAt: now},
	}
}

func TestHandleMatchCreated_FansOutToBothOwners(t *testing.T) {
	reveals := &fakeRevealSource{rows: matchRows(9)}
	users := &fakeUserSource{users: map[uint64]*model.User{
		1: {ID: 1, Name: "Avi"},
		2: {ID: 2, Name: "Dana", City: strptr("Haifa")},
	}}
	pub := &fakePublisher{}

	body := []byte(`{"event_id":"e1","match_id":9}`)
	require.NoError(t, handleMatchCreated(context.Background(), body, reveals, users, pub))

	require.Len(t, pub.sent, 2)

	assert.Equal(t, uint64(1), pub.sent[0].userID)
	assert.Equal(t, "reveal.ready", pub.sent[0].event)
	ev := pub.sent[0].payload.(RevealReadyEvent)
	assert.Equal(t, uint64(100), ev.RevealID)
	assert.Equal(t, uint64(9), ev.MatchID)
	assert.Equal(t, "Dana", ev.OtherUser.Name)
	require.NotNil(t, ev.OtherUser.City)
	assert.Equal(t, "Haifa", *ev.OtherUser.City)

	assert.Equal(t, uint64(2), pub.sent[1].userID)
	ev = pub.sent[1].payload.(RevealReadyEvent)
	assert.Equal(t, uint64(101), ev.RevealID)
	assert.Equal(t, "Avi", ev.OtherUser.Name)
	require.NotNil(t, ev.VideoSnapshot)
	assert.Equal(t, "snap.mp4", *ev.VideoSnapshot)
}

func TestHandleMatchCreated_MalformedBody(t *testing.T) {
	pub := &fakePublisher{}
	err := handleMatchCreated(context.Background(), []byte(`not json`), &fakeRevealSource{}, &fakeUserSource{}, pub)
	require.Error(t, err)
	assert.Empty(t, pub.sent)
}

func TestHandleMatchCreated_MissingMatchID(t *testing.T) {
	pub := &fakePublisher{}
	err := handleMatchCreated(context.Background(), []byte(`{"event_id":"e1"}`), &fakeRevealSource{}, &fakeUserSource{}, pub)
	require.Error(t, err)
	assert.Empty(t, pub.sent)
}

func TestHandleMatchCreated_NoRevealRows(t *testing.T) {
	pub := &fakePublisher{}
	err := handleMatchCreated(context.Background(), []byte(`{"match_id":9}`), &fakeRevealSource{}, &fakeUserSource{}, pub)
	require.Error(t, err)
	assert.Empty(t, pub.sent)
}

func TestHandleMatchCreated_MissingUserSkipsThatSide(t *testing.T) {
	reveals := &fakeRevealSource{rows: matchRows(9)}
	// User 1 is gone; only owner 1's fan-out (which needs user 2) survives.
	users := &fakeUserSource{users: map[uint64]*model.User{
		2: {ID: 2, Name: "Dana"},
	}}
	pub := &fakePublisher{}

	require.NoError(t, handleMatchCreated(context.Background(), []byte(`{"match_id":9}`), reveals, users, pub))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, uint64(1), pub.sent[0].userID)
}

func TestHandleMatchCreated_PublishFailureDoesNotFailMessage(t *testing.T) {
	reveals := &fakeRevealSource{rows: matchRows(9)}
	users := &fakeUserSource{users: map[uint64]*model.User{
		1: {ID: 1, Name: "Avi"},
		2: {ID: 2, Name: "Dana"},
	}}
	pub := &fakePublisher{err: assert.AnError}

	// Delivery is best-effort; the recovery query compensates. The message
	// must still be acked so it is not redelivered to the side that got it.
	require.NoError(t, handleMatchCreated(context.Background(), []byte(`{"match_id":9}`), reveals, users, pub))
	assert.Len(t, pub.sent, 2)
}
