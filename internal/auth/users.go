package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/authvault-io/authvault/internal/database"
	"github.com/authvault-io/authvault/internal/dbx"
)

// User represents a system user
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never exposed in JSON
	CreatedAt    time.Time `json:"created_at"`
}

// UserStore persists user identity records. Bound to a dbx.DBTX so the same
// store works inside and outside a transaction.
type UserStore struct {
	db     dbx.DBTX
	driver string
}

// NewUserStore creates a UserStore over the given handle.
func NewUserStore(db dbx.DBTX, driver string) *UserStore {
	return &UserStore{db: db, driver: driver}
}

// Create inserts a new user. A lookup catches most duplicates up front, but
// the email uniqueness constraint on the table is authoritative: concurrent
// inserts of the same email race at the database, and the loser gets
// ErrEmailTaken.
func (s *UserStore) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	if _, err := s.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user := &User{
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}

	if s.driver == "postgres" {
		err := s.db.QueryRowContext(ctx,
			"INSERT INTO users (email, password_hash, created_at) VALUES ($1, $2, $3) RETURNING id",
			user.Email, user.PasswordHash, user.CreatedAt,
		).Scan(&user.ID)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return nil, ErrEmailTaken
			}
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return user, nil
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)",
		user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new user id: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx,
		database.Rebind(s.driver, "SELECT id, email, password_hash, created_at FROM users WHERE email = ?"),
		email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user by email: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx,
		database.Rebind(s.driver, "SELECT id, email, password_hash, created_at FROM users WHERE id = ?"),
		id,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user by id: %w", err)
	}
	return user, nil
}
