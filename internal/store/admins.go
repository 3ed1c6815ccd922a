package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bilheteria/backend/internal/models"
)

// Admins is the repository for back-office operator accounts.
type Admins struct {
	db *sql.DB
}

func NewAdmins(db *sql.DB) *Admins {
	return &Admins{db: db}
}

func (s *Admins) Create(ctx context.Context, email, name, passwordHash string) (int, error) {
	var id int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO admin_users (email, name, password) VALUES ($1, $2, $3) RETURNING id`,
		email, name, passwordHash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create admin: %w", err)
	}
	return id, nil
}

// GetByEmail returns the account and its password hash for login.
func (s *Admins) GetByEmail(ctx context.Context, email string) (models.AdminUser, string, error) {
	var u models.AdminUser
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password, created_at FROM admin_users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.Name, &hash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return models.AdminUser{}, "", ErrNotFound
	}
	if err != nil {
		return models.AdminUser{}, "", fmt.Errorf("get admin: %w", err)
	}
	return u, hash, nil
}
