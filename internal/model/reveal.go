package model

import "time"

// Reveal status values.  Transitions are monotonic and one-directional:
// PENDING -> REVEALED -> DISMISSED.  There is no write path that moves a
// reveal backwards or skips a state.
const (
	RevealPending   = "PENDING"
	RevealRevealed  = "REVEALED"
	RevealDismissed = "DISMISSED"
)

// MatchReveal is one user's personal notification instance for a
// match.  Each side of a match gets its own independently-tracked
// row, so the same match produces two reveals with swapped
// owner/other ids.  Rows are mutated only through the conditional
// transition updates and the resurfacing claim; they are never
// deleted (a DISMISSED reveal is a permanent terminal record).
type MatchReveal struct {
	ID            uint64     // match_reveals.id
	MatchID       uint64     // match_reveals.match_id
	OwnerUserID   uint64     // match_reveals.owner_user_id
	OtherUserID   uint64     // match_reveals.other_user_id
	VideoSnapshot *string    // match_reveals.video_snapshot (nullable)
	Status        string     // match_reveals.status
	LastShownAt   *time.Time // match_reveals.last_shown_at (nullable)
	CreatedAt     time.Time  // match_reveals.created_at
	UpdatedAt     time.Time  // match_reveals.updated_at
}
