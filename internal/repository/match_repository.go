package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/miel-team/nextmatch-reveal/internal/model"
)

// MatchRepo provides data access to the matches table. The reveal
// pipeline itself never deletes matches; the only write here is the
// atomic match-plus-reveals insert performed on behalf of the mutual-like
// detector when reciprocal likes are observed.
type MatchRepo struct {
	db *sql.DB
}

// NewMatchRepo returns a new MatchRepo bound to the given database.
func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

// CanonicalPair orders two user ids so the lower id always lands in
// user_a_id. The unique index on (user_a_id, user_b_id) can then enforce
// at most one match per unordered pair.
func CanonicalPair(a, b uint64) (uint64, uint64) {
	if a > b {
		return b, a
	}
	return a, b
}

// CreateWithReveals inserts a match and both of its reveal rows in one
// transaction. snapshots maps user id to an optional media reference
// captured at match time; missing entries leave video_snapshot NULL.
// Returns ErrMatchExists when the pair already has a match (MySQL 1062 on
// the unique pair index). The two reveal rows mirror each other: each
// user owns one, with the other user denormalized into other_user_id.
func (r *MatchRepo) CreateWithReveals(ctx context.Context, userA, userB uint64, snapshots map[uint64]*string) (*model.Match, error) {
	a, b := CanonicalPair(userA, userB)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin match tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (user_a_id, user_b_id) VALUES (?, ?)`, a, b)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return nil, ErrMatchExists
		}
		return nil, fmt.Errorf("insert match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	m := &model.Match{ID: uint64(id), UserAID: a, UserBID: b}

	// One reveal per side, created in the same unit of work as the match so
	// the recovery query can never observe a match without its reveals.
	const insReveal = `INSERT INTO match_reveals (match_id, owner_user_id, other_user_id, video_snapshot)
                       VALUES (?, ?, ?, ?), (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insReveal,
		m.ID, a, b, snapshotArg(snapshots, b),
		m.ID, b, a, snapshotArg(snapshots, a),
	); err != nil {
		return nil, fmt.Errorf("insert reveals: %w", err)
	}

	// Read back the row to populate the database-assigned timestamp.
	if err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM matches WHERE id = ?`, m.ID,
	).Scan(&m.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit match tx: %w", err)
	}
	committed = true
	return m, nil
}

// snapshotArg resolves the snapshot of the user being shown (the reveal's
// other user) into a nullable SQL argument.
func snapshotArg(snapshots map[uint64]*string, shownUser uint64) interface{} {
	if snapshots == nil {
		return nil
	}
	if v, ok := snapshots[shownUser]; ok && v != nil {
		return *v
	}
	return nil
}

// GetByID returns a single match. sql.ErrNoRows is passed through when
// the match does not exist.
func (r *MatchRepo) GetByID(ctx context.Context, id uint64) (*model.Match, error) {
	var m model.Match
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_a_id, user_b_id, created_at FROM matches WHERE id = ?`, id,
	).Scan(&m.ID, &m.UserAID, &m.UserBID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
