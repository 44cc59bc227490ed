package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miel-team/nextmatch-reveal/internal/model"
)

// RevealRepo provides data access to the match_reveals table. All state
// changes go through conditional updates whose WHERE clause carries the
// full (id, owner, expected status) predicate, so the ownership check and
// the state check are a single atomic statement rather than a
// check-then-act sequence. Multiple tabs of the same user racing on the
// same reveal are harmless: at most one statement affects a row, the rest
// observe zero rows and are resolved into no-op or conflict by a re-read.
type RevealRepo struct {
	db *sql.DB
}

// NewRevealRepo returns a new RevealRepo bound to the given database.
func NewRevealRepo(db *sql.DB) *RevealRepo { return &RevealRepo{db: db} }

// DB exposes the underlying handle so handlers can open transactions that
// span repositories, mirroring the convention used by the other repos.
func (r *RevealRepo) DB() *sql.DB { return r.db }

// RevealItem is the uniform wire shape handed to clients for both the
// pending and the resurfacing sets. The client has no way to tell a
// never-seen reveal from a resurfaced one, and must not need to.
type RevealItem struct {
	ID            uint64    `json:"id"`
	MatchID       uint64    `json:"match_id"`
	VideoSnapshot *string   `json:"video_snapshot,omitempty"`
	CreatedAt     string    `json:"created_at"`
	OtherUser     OtherUser `json:"other_user"`
}

// OtherUser carries the display fields of the match's other participant.
type OtherUser struct {
	ID    uint64  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image,omitempty"`
	City  *string `json:"city,omitempty"`
}

const revealItemColumns = `mr.id, mr.match_id, mr.video_snapshot, mr.created_at,
               u.id, u.name, u.image, u.city`

// scanRevealItem reads one joined match_reveals/users row into a RevealItem.
func scanRevealItem(rows *sql.Rows) (RevealItem, error) {
	var it RevealItem
	var snapshot sql.NullString
	var createdAt time.Time
	var image, city sql.NullString
	if err := rows.Scan(
		&it.ID, &it.MatchID, &snapshot, &createdAt,
		&it.OtherUser.ID, &it.OtherUser.Name, &image, &city,
	); err != nil {
		return RevealItem{}, err
	}
	if snapshot.Valid {
		v := snapshot.String
		it.VideoSnapshot = &v
	}
	if image.Valid {
		v := image.String
		it.OtherUser.Image = &v
	}
	if city.Valid {
		v := city.String
		it.OtherUser.City = &v
	}
	it.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return it, nil
}

// PendingByOwner returns every PENDING reveal owned by the given user,
// joined with the other participant's display fields, oldest first.
// These rows have never been shown; no claim is needed to return them.
func (r *RevealRepo) PendingByOwner(ctx context.Context, ownerID uint64) ([]RevealItem, error) {
	const q = `SELECT ` + revealItemColumns + `
               FROM match_reveals mr
               JOIN users u ON u.id = mr.other_user_id
               WHERE mr.owner_user_id = ? AND mr.status = 'PENDING'
               ORDER BY mr.created_at ASC, mr.id ASC`
	rows, err := r.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query pending reveals: %w", err)
	}
	defer rows.Close()
	items := make([]RevealItem, 0)
	for rows.Next() {
		it, err := scanRevealItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ResurfaceCandidate pairs a reveal id with the other participant, so the
// caller can gate resurfacing on the other user's recent activity before
// running the claim.
type ResurfaceCandidate struct {
	RevealID    uint64
	OtherUserID uint64
}

// RevealedCandidates returns REVEALED reveals owned by the user whose last
// delivery is older than the cooldown. A NULL last_shown_at (rows written
// before the column existed) counts as past cooldown. This is a plain
// read; eligibility is re-checked under lock inside ClaimResurfacing, so a
// stale candidate here costs nothing.
func (r *RevealRepo) RevealedCandidates(ctx context.Context, ownerID uint64, cooldown time.Duration) ([]ResurfaceCandidate, error) {
	const q = `SELECT id, other_user_id
               FROM match_reveals
               WHERE owner_user_id = ? AND status = 'REVEALED'
                 AND (last_shown_at IS NULL OR last_shown_at <= UTC_TIMESTAMP() - INTERVAL ? SECOND)
               ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, ownerID, int64(cooldown.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("query resurface candidates: %w", err)
	}
	defer rows.Close()
	var cands []ResurfaceCandidate
	for rows.Next() {
		var c ResurfaceCandidate
		if err := rows.Scan(&c.RevealID, &c.OtherUserID); err != nil {
			return nil, err
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cands, nil
}

// ClaimResurfacing selects the still-eligible rows among revealIDs and
// stamps last_shown_at on exactly those rows, inside one transaction with
// the selection locked via FOR UPDATE. The read (eligibility) and the
// write (claim) are indivisible: two concurrent loads racing on the same
// stale row cannot both claim it, because the second SELECT blocks on the
// row lock and then re-evaluates the cooldown predicate against the
// timestamp the first one just wrote. Returns the claimed rows in wire
// shape, oldest first.
func (r *RevealRepo) ClaimResurfacing(ctx context.Context, ownerID uint64, revealIDs []uint64, cooldown time.Duration) ([]RevealItem, error) {
	if len(revealIDs) == 0 {
		return []RevealItem{}, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	placeholders := make([]string, 0, len(revealIDs))
	args := make([]interface{}, 0, len(revealIDs)+2)
	args = append(args, ownerID, int64(cooldown.Seconds()))
	for _, id := range revealIDs {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	// Lock the eligible rows. The predicate repeats the candidate query so
	// that anything claimed between the read and this lock drops out here.
	q := `SELECT ` + revealItemColumns + `
          FROM match_reveals mr
          JOIN users u ON u.id = mr.other_user_id
          WHERE mr.owner_user_id = ? AND mr.status = 'REVEALED'
            AND (mr.last_shown_at IS NULL OR mr.last_shown_at <= UTC_TIMESTAMP() - INTERVAL ? SECOND)
            AND mr.id IN (` + strings.Join(placeholders, ",") + `)
          ORDER BY mr.created_at ASC, mr.id ASC
          FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("lock resurface rows: %w", err)
	}
	items := make([]RevealItem, 0)
	for rows.Next() {
		it, scanErr := scanRevealItem(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		items = append(items, it)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		// Nothing survived the re-check; commit releases the (empty) lock set.
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		return items, nil
	}

	claimedPh := make([]string, 0, len(items))
	claimedArgs := make([]interface{}, 0, len(items))
	for _, it := range items {
		claimedPh = append(claimedPh, "?")
		claimedArgs = append(claimedArgs, it.ID)
	}
	upd := `UPDATE match_reveals SET last_shown_at = UTC_TIMESTAMP()
            WHERE id IN (` + strings.Join(claimedPh, ",") + `)`
	if _, err := tx.ExecContext(ctx, upd, claimedArgs...); err != nil {
		return nil, fmt.Errorf("stamp last_shown_at: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	committed = true
	return items, nil
}

// MarkSeen transitions a reveal from PENDING to REVEALED for its owner.
// It is invoked at the start of the presentation, so a user closing the
// UI mid-reveal still leaves the row REVEALED instead of stuck PENDING.
// The update also stamps last_shown_at: this is the moment the reveal is
// first surfaced, and the cooldown for any later resurfacing counts from
// here.
//
// Returns (true, nil) when this call performed the transition,
// (false, nil) when the reveal was already REVEALED or DISMISSED (benign
// repeat from a retry or a second tab), and ErrConflict when the reveal
// does not exist or belongs to a different user.
func (r *RevealRepo) MarkSeen(ctx context.Context, revealID, ownerID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE match_reveals
         SET status = 'REVEALED', last_shown_at = UTC_TIMESTAMP()
         WHERE id = ? AND owner_user_id = ? AND status = 'PENDING'`,
		revealID, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	return false, r.resolveNoop(ctx, revealID, ownerID, model.RevealRevealed)
}

// MarkDismissed transitions a reveal from REVEALED to DISMISSED for its
// owner. Dismissing never cascades to the match; the relationship
// persists. Same contract as MarkSeen: (true, nil) on transition,
// (false, nil) when already DISMISSED, ErrConflict otherwise, including
// a dismiss attempted on a still-PENDING reveal, which would skip a state.
func (r *RevealRepo) MarkDismissed(ctx context.Context, revealID, ownerID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE match_reveals
         SET status = 'DISMISSED'
         WHERE id = ? AND owner_user_id = ? AND status = 'REVEALED'`,
		revealID, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark dismissed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	return false, r.resolveNoop(ctx, revealID, ownerID, model.RevealDismissed)
}

// resolveNoop decides what a zero-row conditional update means. If the row
// exists, is owned by the caller and its status is already at or past the
// target, the repeat is benign and nil is returned. Missing row, foreign
// owner, or a status still behind the target all collapse into
// ErrConflict.
func (r *RevealRepo) resolveNoop(ctx context.Context, revealID, ownerID uint64, target string) error {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM match_reveals WHERE id = ? AND owner_user_id = ?`,
		revealID, ownerID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if statusRank(status) >= statusRank(target) {
		return nil
	}
	return ErrConflict
}

// statusRank orders the lifecycle states so "at or past" comparisons stay
// in one place.
func statusRank(s string) int {
	switch s {
	case model.RevealPending:
		return 0
	case model.RevealRevealed:
		return 1
	case model.RevealDismissed:
		return 2
	}
	return -1
}

// ByMatch returns both reveal rows of a match. Used by the fan-out
// consumer to hydrate delivery events after the detector announces a new
// match.
func (r *RevealRepo) ByMatch(ctx context.Context, matchID uint64) ([]model.MatchReveal, error) {
	const q = `SELECT id, match_id, owner_user_id, other_user_id, video_snapshot,
                      status, last_shown_at, created_at, updated_at
               FROM match_reveals
               WHERE match_id = ?
               ORDER BY owner_user_id ASC`
	rows, err := r.db.QueryContext(ctx, q, matchID)
	if err != nil {
		return nil, fmt.Errorf("query reveals by match: %w", err)
	}
	defer rows.Close()
	var reveals []model.MatchReveal
	for rows.Next() {
		var m model.MatchReveal
		var snapshot sql.NullString
		var lastShown sql.NullTime
		if err := rows.Scan(&m.ID, &m.MatchID, &m.OwnerUserID, &m.OtherUserID,
			&snapshot, &m.Status, &lastShown, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if snapshot.Valid {
			v := snapshot.String
			m.VideoSnapshot = &v
		}
		if lastShown.Valid {
			t := lastShown.Time
			m.LastShownAt = &t
		}
		reveals = append(reveals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reveals, nil
}
