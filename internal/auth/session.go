// Package auth implements the credential and session lifecycle: registration
// and login against stored bcrypt hashes, issuing and verifying the
// access/refresh token pair, strict refresh rotation, revocation, and the
// background expiry sweep.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/authvault-io/authvault/internal/dbx"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Service orchestrates the credential store, password hasher, token codec,
// and refresh token ledger. Operations are request-scoped; no cross-request
// state is held outside the database.
type Service struct {
	db     *sql.DB
	driver string
	users  *UserStore
	ledger *RefreshTokenLedger
	hasher *PasswordHasher
	codec  *TokenCodec
	log    *slog.Logger
}

// NewService constructs a Service over an open database handle.
func NewService(db *sql.DB, driver string, hasher *PasswordHasher, codec *TokenCodec, log *slog.Logger) *Service {
	return &Service{
		db:     db,
		driver: driver,
		users:  NewUserStore(db, driver),
		ledger: NewRefreshTokenLedger(db, driver),
		hasher: hasher,
		codec:  codec,
		log:    log,
	}
}

// Register validates the credentials, creates the user, and issues the first
// access/refresh pair. Returns ErrInvalidEmail, ErrWeakPassword, or
// ErrEmailTaken on expected failures.
func (s *Service) Register(ctx context.Context, email, password string) (*TokenPair, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, email, digest)
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", user.ID)

	return s.issuePair(ctx, s.db, user.ID)
}

// Login verifies the credentials and issues a fresh pair. An unknown email
// and a wrong password both return ErrInvalidCredentials so a caller cannot
// tell which half failed.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return s.issuePair(ctx, s.db, user.ID)
}

// Refresh rotates a refresh token: the presented token is verified against
// its signature and the ledger, then deleted and replaced by a new pair. The
// delete and insert run in one transaction so a crash leaves either the old
// or the new token valid, never neither, and the delete's row count decides
// who wins when the same token is presented concurrently. A revoked,
// already-rotated, or ledger-expired token returns ErrInvalidToken,
// deliberately the same class as a forged one.
func (s *Service) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	// Signature and embedded expiry are checked before any storage access.
	claims, err := s.codec.Refresh.Verify(presented)
	if err != nil {
		return nil, err
	}

	// Fast path; the transactional Consume below remains authoritative.
	live, err := s.ledger.Exists(ctx, claims.UserID, presented)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrInvalidToken
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ledgerTx := NewRefreshTokenLedger(tx, s.driver)
		consumed, err := ledgerTx.Consume(ctx, claims.UserID, presented)
		if err != nil {
			return err
		}
		if !consumed {
			return ErrInvalidToken
		}
		var issueErr error
		pair, issueErr = s.issuePair(ctx, tx, claims.UserID)
		return issueErr
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			s.log.Error("refresh rotation failed", "user_id", claims.UserID, "error", err)
		}
		return nil, err
	}
	return pair, nil
}

// Logout revokes the given refresh token. Revoking an already-absent token
// is not an error.
func (s *Service) Logout(ctx context.Context, userID int64, refreshToken string) error {
	return s.ledger.Revoke(ctx, userID, refreshToken)
}

// VerifyAccess validates an access token and returns the subject's user ID.
// Pure signature and expiry checks; the store is never consulted.
func (s *Service) VerifyAccess(token string) (int64, error) {
	claims, err := s.codec.Access.Verify(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// GetUser returns the user record for an authenticated subject.
func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.users.GetByID(ctx, userID)
}

// Ledger exposes the refresh token ledger for the background sweeper.
func (s *Service) Ledger() *RefreshTokenLedger {
	return s.ledger
}

// issuePair mints a new access/refresh pair and persists the refresh record
// through the given handle, which may be a transaction.
func (s *Service) issuePair(ctx context.Context, db dbx.DBTX, userID int64) (*TokenPair, error) {
	access, err := s.codec.Access.Generate(userID)
	if err != nil {
		return nil, err
	}

	refresh, err := s.codec.Refresh.Generate(userID)
	if err != nil {
		return nil, err
	}

	ledger := NewRefreshTokenLedger(db, s.driver)
	expiresAt := time.Now().Add(s.codec.Refresh.TTL())
	if err := ledger.Store(ctx, userID, refresh, expiresAt); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
