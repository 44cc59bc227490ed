package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miel-team/nextmatch-reveal/internal/middleware"
	"github.com/miel-team/nextmatch-reveal/internal/repository"
	"github.com/miel-team/nextmatch-reveal/internal/utils"
)

const testSecret = "test-secret"

// fakeStore scripts the repository surface the handlers depend on.
type fakeStore struct {
	pending    []repository.RevealItem
	candidates []repository.ResurfaceCandidate
	claimed    []repository.RevealItem
	claimedIDs []uint64 // ids passed to ClaimResurfacing

	seenChanged    bool
	seenErr        error
	seenCalls      [][2]uint64 // (revealID, ownerID) pairs
	dismissChanged bool
	dismissErr     error
	dismissCalls   [][2]uint64
}

func (f *fakeStore) PendingByOwner(ctx context.Context, ownerID uint64) ([]repository.RevealItem, error) {
	return f.pending, nil
}

func (f *fakeStore) RevealedCandidates(ctx context.Context, ownerID uint64, cooldown time.Duration) ([]repository.ResurfaceCandidate, error) {
	return f.candidates, nil
}

func (f *fakeStore) ClaimResurfacing(ctx context.Context, ownerID uint64, revealIDs []uint64, cooldown time.Duration) ([]repository.RevealItem, error) {
	f.claimedIDs = revealIDs
	return f.claimed, nil
}

func (f *fakeStore) MarkSeen(ctx context.Context, revealID, ownerID uint64) (bool, error) {
	f.seenCalls = append(f.seenCalls, [2]uint64{revealID, ownerID})
	return f.seenChanged, f.seenErr
}

func (f *fakeStore) MarkDismissed(ctx context.Context, revealID, ownerID uint64) (bool, error) {
	f.dismissCalls = append(f.dismissCalls, [2]uint64{revealID, ownerID})
	return f.dismissChanged, f.dismissErr
}

// fakePresence reports a fixed set of active users.
type fakePresence struct {
	active map[uint64]bool
}

func (f *fakePresence) FilterActive(ctx context.Context, userIDs []uint64) ([]uint64, error) {
	var out []uint64
	for _, id := range userIDs {
		if f.active[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func newTestServer(store *fakeStore, pres *fakePresence) *echo.Echo {
	e := echo.New()
	h := NewRevealHandler(store, pres, 2*time.Hour)
	g := e.Group("/v1", middleware.JWTAuth(testSecret))
	g.GET("/reveals/pending", h.ListPending)
	g.POST("/reveals/:id/seen", h.MarkSeen)
	g.POST("/reveals/:id/dismiss", h.MarkDismissed)
	return e
}

func doRequest(t *testing.T, e *echo.Echo, method, path string, userID uint64) *httptest.ResponseRecorder {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, 5)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func item(id, matchID, otherID uint64) repository.RevealItem {
	return repository.RevealItem{
		ID:        id,
		MatchID:   matchID,
		CreatedAt: "2026-08-30T10:00:00Z",
		OtherUser: repository.OtherUser{ID: otherID, Name: "Someone"},
	}
}

func TestListPending_ReturnsPendingSet(t *testing.T) {
	store := &fakeStore{pending: []repository.RevealItem{item(10, 1, 2)}}
	e := newTestServer(store, &fakePresence{})

	rec := doRequest(t, e, http.MethodGet, "/v1/reveals/pending", 1)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reveals []repository.RevealItem `json:"reveals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Reveals, 1)
	assert.Equal(t, uint64(10), body.Reveals[0].ID)
	assert.Equal(t, uint64(2), body.Reveals[0].OtherUser.ID)
}

func TestListPending_MergesClaimedResurfacing(t *testing.T) {
	store := &fakeStore{
		pending: []repository.RevealItem{item(10, 1, 2)},
		candidates: []repository.ResurfaceCandidate{
			{RevealID: 20, OtherUserID: 3},
			{RevealID: 30, OtherUserID: 4},
		},
		claimed: []repository.RevealItem{item(20, 2, 3)},
	}
	// Only user 3 is around; user 4's reveal must not even reach the claim.
	pres := &fakePresence{active: map[uint64]bool{3: true}}
	e := newTestServer(store, pres)

	rec := doRequest(t, e, http.MethodGet, "/v1/reveals/pending", 1)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []uint64{20}, store.claimedIDs, "claim is restricted to presence-eligible reveals")

	var body struct {
		Reveals []repository.RevealItem `json:"reveals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Reveals, 2)
	// Pending first, then resurfaced; shapes are indistinguishable.
	assert.Equal(t, uint64(10), body.Reveals[0].ID)
	assert.Equal(t, uint64(20), body.Reveals[1].ID)
}

func TestListPending_NoActiveOthersSkipsClaim(t *testing.T) {
	store := &fakeStore{
		candidates: []repository.ResurfaceCandidate{{RevealID: 20, OtherUserID: 3}},
	}
	e := newTestServer(store, &fakePresence{})

	rec := doRequest(t, e, http.MethodGet, "/v1/reveals/pending", 1)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, store.claimedIDs, "no claim transaction without an active counterpart")
	assert.JSONEq(t, `{"reveals":[]}`, rec.Body.String())
}

func TestListPending_RequiresAuth(t *testing.T) {
	e := newTestServer(&fakeStore{}, &fakePresence{})
	req := httptest.NewRequest(http.MethodGet, "/v1/reveals/pending", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMarkSeen_SuccessAndNoopLookIdentical(t *testing.T) {
	for _, changed := range []bool{true, false} {
		store := &fakeStore{seenChanged: changed}
		e := newTestServer(store, &fakePresence{})

		rec := doRequest(t, e, http.MethodPost, "/v1/reveals/7/seen", 1)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
		require.Len(t, store.seenCalls, 1)
		assert.Equal(t, [2]uint64{7, 1}, store.seenCalls[0])
	}
}

func TestMarkSeen_ConflictReturns409(t *testing.T) {
	store := &fakeStore{seenErr: repository.ErrConflict}
	e := newTestServer(store, &fakePresence{})

	rec := doRequest(t, e, http.MethodPost, "/v1/reveals/7/seen", 1)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"conflict"}`, rec.Body.String())
}

func TestMarkDismissed_ConflictReturns409(t *testing.T) {
	store := &fakeStore{dismissErr: repository.ErrConflict}
	e := newTestServer(store, &fakePresence{})

	rec := doRequest(t, e, http.MethodPost, "/v1/reveals/7/dismiss", 1)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTransition_InvalidRevealID(t *testing.T) {
	e := newTestServer(&fakeStore{}, &fakePresence{})

	rec := doRequest(t, e, http.MethodPost, "/v1/reveals/abc/seen", 1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, e, http.MethodPost, "/v1/reveals/0/dismiss", 1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
