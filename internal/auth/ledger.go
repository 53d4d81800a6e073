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

// RefreshTokenLedger is the persisted table of currently-valid refresh
// tokens. A refresh token is live only while its row exists and has not
// lapsed; deleting the row revokes the token ahead of its embedded expiry.
type RefreshTokenLedger struct {
	db     dbx.DBTX
	driver string
}

// NewRefreshTokenLedger creates a ledger over the given handle. Pass a
// transaction handle to group ledger writes with other statements.
func NewRefreshTokenLedger(db dbx.DBTX, driver string) *RefreshTokenLedger {
	return &RefreshTokenLedger{db: db, driver: driver}
}

// Store inserts a refresh token row. Token values are globally unique by
// construction; a constraint violation here means token generation is broken
// and is returned as a hard error.
func (l *RefreshTokenLedger) Store(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		database.Rebind(l.driver, "INSERT INTO refresh_tokens (user_id, token, expires_at, created_at) VALUES (?, ?, ?, ?)"),
		userID, token, expiresAt, time.Now(),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("refresh token collision for user %d: %w", userID, err)
		}
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// Exists reports whether a row matches both userID and token with an expiry
// strictly in the future. This is the authoritative revocation check,
// independent of the token's embedded expiry claim.
func (l *RefreshTokenLedger) Exists(ctx context.Context, userID int64, token string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		database.Rebind(l.driver, "SELECT 1 FROM refresh_tokens WHERE user_id = ? AND token = ? AND expires_at > ?"),
		userID, token, time.Now(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check refresh token: %w", err)
	}
	return true, nil
}

// Consume deletes the live row matching userID and token and reports whether
// one was removed. Rotation relies on the delete, not any prior read, as its
// at-most-once check: when two transactions race over the same token, only
// the winner's delete matches a row, and the loser must roll back.
func (l *RefreshTokenLedger) Consume(ctx context.Context, userID int64, token string) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		database.Rebind(l.driver, "DELETE FROM refresh_tokens WHERE user_id = ? AND token = ? AND expires_at > ?"),
		userID, token, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count consumed refresh tokens: %w", err)
	}
	return n > 0, nil
}

// Revoke deletes the row(s) matching userID and token. Deleting zero rows is
// not an error; logout is idempotent.
func (l *RefreshTokenLedger) Revoke(ctx context.Context, userID int64, token string) error {
	_, err := l.db.ExecContext(ctx,
		database.Rebind(l.driver, "DELETE FROM refresh_tokens WHERE user_id = ? AND token = ?"),
		userID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// SweepExpired deletes all rows whose expiry has passed and returns how many
// were removed. Safe to run concurrently with inserts and deletes.
func (l *RefreshTokenLedger) SweepExpired(ctx context.Context) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		database.Rebind(l.driver, "DELETE FROM refresh_tokens WHERE expires_at <= ?"),
		time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired refresh tokens: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept refresh tokens: %w", err)
	}
	return removed, nil
}
