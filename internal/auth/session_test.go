package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/authvault-io/authvault/internal/config"
	"github.com/authvault-io/authvault/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	cfg := &config.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ":memory:"
	cfg.Database.MaxRetries = 1

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T, db *sql.DB, accessTTL, refreshTTL time.Duration) *Service {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec := NewTokenCodec("test-access-secret", "test-refresh-secret", accessTTL, refreshTTL)
	return NewService(db, "sqlite", testHasher(), codec, logger)
}

func TestService_RegisterThenLogin(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	regPair, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)
	require.NotEmpty(t, regPair.AccessToken)
	require.NotEmpty(t, regPair.RefreshToken)

	loginPair, err := svc.Login(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	userID, err := svc.VerifyAccess(loginPair.AccessToken)
	require.NoError(t, err)

	user, err := svc.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestService_RegisterValidation(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, "not-an-email", "Password1!")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Register(ctx, "bob@example.com", "weak")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestService_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice@example.com", "Password1!")
	assert.ErrorIs(t, err, ErrEmailTaken)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM users WHERE email = ?", "alice@example.com").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestService_LoginFailuresAreUniform(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	// An unknown email and a wrong password must be indistinguishable.
	_, unknownErr := svc.Login(ctx, "nobody@example.com", "Password1!")
	_, wrongErr := svc.Login(ctx, "alice@example.com", "WrongPassword1!")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, ErrInvalidCredentials)
}

func TestService_RefreshRotation(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)
	r1 := pair.RefreshToken

	pair2, err := svc.Refresh(ctx, r1)
	require.NoError(t, err)
	assert.NotEqual(t, r1, pair2.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair2.AccessToken)

	// R1 was rotated out; replaying it must fail.
	_, err = svc.Refresh(ctx, r1)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The new token is still usable.
	_, err = svc.Refresh(ctx, pair2.RefreshToken)
	assert.NoError(t, err)
}

func TestService_ConcurrentRefresh(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	// Presenting the same refresh token from several goroutines at once must
	// rotate it exactly once; every loser gets ErrInvalidToken.
	const attempts = 4
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInvalidToken)
		}
	}
	assert.Equal(t, 1, succeeded)

	// Exactly one live refresh row remains: the winner's replacement.
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM refresh_tokens").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestService_RefreshWithForgedToken(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A token signed with the wrong secret never reaches the ledger.
	other := NewTokenManager("some-other-secret", time.Hour)
	forged, err := other.Generate(1)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_RefreshExpiredToken(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, -time.Minute)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestService_LogoutRevokesRefresh(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	userID, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, userID, pair.RefreshToken))

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Logout is idempotent.
	assert.NoError(t, svc.Logout(ctx, userID, pair.RefreshToken))
}

func TestService_MultiDeviceSessions(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	device1, err := svc.Login(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)
	device2, err := svc.Login(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	// Revoking one device's session leaves the other intact.
	userID, err := svc.VerifyAccess(device1.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, userID, device1.RefreshToken))

	_, err = svc.Refresh(ctx, device1.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.Refresh(ctx, device2.RefreshToken)
	assert.NoError(t, err)
}

func TestService_ConcurrentRegistration(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	const attempts = 4
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(ctx, "race@example.com", "Password1!")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrEmailTaken)
		}
	}
	assert.Equal(t, 1, succeeded)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM users WHERE email = ?", "race@example.com").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestService_AccessTokenExpiry(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, -time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "alice@example.com", "Password1!")
	require.NoError(t, err)

	_, err = svc.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
