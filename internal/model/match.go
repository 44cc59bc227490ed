package model

import "time"

// Match records that two users have mutually expressed interest in
// each other.  The pair is stored in canonical order (UserAID <
// UserBID) so the unique index on the pair prevents duplicate rows
// for the same two users regardless of which side liked first.
// Matches are created once by the mutual-like detector and are never
// deleted by the reveal pipeline; dismissing a reveal does not
// dissolve the relationship.
type Match struct {
	ID        uint64    // matches.id
	UserAID   uint64    // matches.user_a_id
	UserBID   uint64    // matches.user_b_id
	CreatedAt time.Time // matches.created_at
}
