package repository

import (
	"context"
	"database/sql"

	"github.com/miel-team/nextmatch-reveal/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// DisplayByID loads the display fields used to render a match's other
// participant. sql.ErrNoRows passes through when the user is missing.
func (r *UserRepo) DisplayByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	var image, city sql.NullString
	var lastActive sql.NullTime
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, image, city, last_active_at, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &image, &city, &lastActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if image.Valid {
		v := image.String
		u.Image = &v
	}
	if city.Valid {
		v := city.String
		u.City = &v
	}
	if lastActive.Valid {
		t := lastActive.Time
		u.LastActiveAt = &t
	}
	return &u, nil
}
