package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/miel-team/nextmatch-reveal/internal/repository"
)

// RevealStore is the slice of the reveal repository the handlers need.
// Declared here so tests can substitute a fake without a database; the
// concrete implementation is repository.RevealRepo.
type RevealStore interface {
	PendingByOwner(ctx context.Context, ownerID uint64) ([]repository.RevealItem, error)
	RevealedCandidates(ctx context.Context, ownerID uint64, cooldown time.Duration) ([]repository.ResurfaceCandidate, error)
	ClaimResurfacing(ctx context.Context, ownerID uint64, revealIDs []uint64, cooldown time.Duration) ([]repository.RevealItem, error)
	MarkSeen(ctx context.Context, revealID, ownerID uint64) (bool, error)
	MarkDismissed(ctx context.Context, revealID, ownerID uint64) (bool, error)
}

// PresenceChecker gates resurfacing on the other participant's recent
// activity. Implemented by presence.Tracker.
type PresenceChecker interface {
	FilterActive(ctx context.Context, userIDs []uint64) ([]uint64, error)
}

// RevealHandler serves the reveal pipeline's HTTP surface: the recovery
// query and the two idempotent transitions. All methods assume JWT
// authentication has already run; they return 401 only when the user id
// cannot be extracted from the context.
type RevealHandler struct {
	Store             RevealStore
	Presence          PresenceChecker
	ResurfaceCooldown time.Duration
}

// NewRevealHandler constructs a RevealHandler and panics if a dependency
// is nil, matching the construction contract of the other handlers.
func NewRevealHandler(store RevealStore, pres PresenceChecker, cooldown time.Duration) *RevealHandler {
	if store == nil || pres == nil {
		panic("nil dependency passed to NewRevealHandler")
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Hour
	}
	return &RevealHandler{Store: store, Presence: pres, ResurfaceCooldown: cooldown}
}

// ListPending handles GET /v1/reveals/pending. It rebuilds the caller's
// delivery queue from the store: every never-seen reveal, plus any
// already-seen reveal whose other participant is active again and whose
// cooldown has elapsed. The resurfacing half claims the rows it returns
// (stamping last_shown_at inside the repository's locked transaction) so
// two concurrent loads cannot both re-deliver the same item. Both sets
// come back in one list of a uniform shape.
func (h *RevealHandler) ListPending(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()

	pending, err := h.Store.PendingByOwner(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	resurfaced, err := h.resurface(ctx, userID)
	if err != nil {
		// Resurfacing is a nudge, not the source of truth. If it fails the
		// pending set is still correct, so degrade instead of erroring.
		c.Logger().Warnf("resurfacing failed for user %d: %v", userID, err)
		resurfaced = nil
	}

	reveals := make([]repository.RevealItem, 0, len(pending)+len(resurfaced))
	reveals = append(reveals, pending...)
	reveals = append(reveals, resurfaced...)
	return c.JSON(http.StatusOK, echo.Map{"reveals": reveals})
}

// resurface computes and claims the re-delivery set: REVEALED rows past
// cooldown whose other participant was active within the presence window.
func (h *RevealHandler) resurface(ctx context.Context, userID uint64) ([]repository.RevealItem, error) {
	cands, err := h.Store.RevealedCandidates(ctx, userID, h.ResurfaceCooldown)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}
	otherIDs := make([]uint64, 0, len(cands))
	for _, cand := range cands {
		otherIDs = append(otherIDs, cand.OtherUserID)
	}
	active, err := h.Presence.FilterActive(ctx, otherIDs)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	activeSet := make(map[uint64]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
	}
	eligible := make([]uint64, 0, len(cands))
	for _, cand := range cands {
		if _, ok := activeSet[cand.OtherUserID]; ok {
			eligible = append(eligible, cand.RevealID)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	return h.Store.ClaimResurfacing(ctx, userID, eligible, h.ResurfaceCooldown)
}

// MarkSeen handles POST /v1/reveals/:id/seen, the PENDING->REVEALED edge.
// Repeats and duplicate tabs are expected: an update that finds the row
// already REVEALED or DISMISSED reports success. A reveal that is
// missing, owned by someone else, or otherwise outside the predicate is a
// 409 and must not be retried.
func (h *RevealHandler) MarkSeen(c echo.Context) error {
	return h.transition(c, h.Store.MarkSeen)
}

// MarkDismissed handles POST /v1/reveals/:id/dismiss, the
// REVEALED->DISMISSED edge, with the same idempotency contract as seen.
// Dismissing never touches the match row.
func (h *RevealHandler) MarkDismissed(c echo.Context) error {
	return h.transition(c, h.Store.MarkDismissed)
}

func (h *RevealHandler) transition(c echo.Context, op func(ctx context.Context, revealID, ownerID uint64) (bool, error)) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	revealID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || revealID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reveal id"})
	}
	if _, err := op(c.Request().Context(), revealID, userID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	// Affected-row count is deliberately not exposed; a no-op repeat and a
	// real transition look identical to the caller.
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// getUserID extracts the user_id from echo.Context and converts it to
// uint64. JWT claims arrive as float64 via encoding/json.
func getUserID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}
