package model

import "time"

// User mirrors the display-relevant columns of the `users` table.
// The table is owned by the core application; the reveal pipeline
// only reads the fields needed to render the other participant of a
// match.  Credentials and profile internals are deliberately absent.
type User struct {
	ID           uint64     // users.id
	Name         string     // users.name
	Image        *string    // users.image (nullable)
	City         *string    // users.city (nullable)
	LastActiveAt *time.Time // users.last_active_at (nullable)
	CreatedAt    time.Time  // users.created_at
}
