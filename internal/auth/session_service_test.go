package auth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/expensio/expensio/internal/database/testutil"
	"github.com/expensio/expensio/internal/models"
)

func newSessionTestServices(t *testing.T, clock func() time.Time) (*gorm.DB, *SessionService, string) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	user := &models.User{
		Username: "session-" + t.Name(),
		Email:    "session-" + t.Name() + "@example.com",
		Password: "irrelevant",
	}
	require.NoError(t, db.Create(user).Error)

	jwtSvc, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "test", Clock: clock})
	require.NoError(t, err)

	svc, err := NewSessionService(db, jwtSvc, SessionConfig{
		RefreshTokenTTL: time.Hour,
		Clock:           clock,
	})
	require.NoError(t, err)

	return db, svc, user.ID
}

func TestSessionCreateAndRefresh(t *testing.T) {
	_, svc, userID := newSessionTestServices(t, nil)

	pair, session, err := svc.CreateSession(userID, SessionMetadata{IPAddress: "10.0.0.1", UserAgent: "go-test"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, userID, session.UserID)

	refreshed, rotated, err := svc.RefreshSession(pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, refreshed.RefreshToken)
	require.Equal(t, session.ID, rotated.ID)

	// The old refresh token is dead after rotation.
	_, _, err = svc.RefreshSession(pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoresClientMetadata(t *testing.T) {
	db, svc, userID := newSessionTestServices(t, nil)

	_, session, err := svc.CreateSession(userID, SessionMetadata{
		IPAddress: " 10.0.0.1 ",
		UserAgent: "go-test",
	})
	require.NoError(t, err)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)

	var meta SessionMetadata
	require.NoError(t, json.Unmarshal(stored.Metadata, &meta))
	require.Equal(t, "10.0.0.1", meta.IPAddress)
	require.Equal(t, "go-test", meta.UserAgent)

	// Absent client context stores no document at all.
	_, blank, err := svc.CreateSession(userID, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Take(&stored, "id = ?", blank.ID).Error)
	require.Empty(t, stored.Metadata)
}

func TestSessionRefreshExpired(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	_, svc, userID := newSessionTestServices(t, clock)

	pair, _, err := svc.CreateSession(userID, SessionMetadata{})
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, _, err = svc.RefreshSession(pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionRevoke(t *testing.T) {
	_, svc, userID := newSessionTestServices(t, nil)

	pair, session, err := svc.CreateSession(userID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(session.ID))
	require.ErrorIs(t, svc.RevokeSession(session.ID), ErrSessionNotFound)

	_, _, err = svc.RefreshSession(pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestSessionCleanupExpired(t *testing.T) {
	current := time.Now()
	clock := func() time.Time { return current }

	db, svc, userID := newSessionTestServices(t, clock)

	_, _, err := svc.CreateSession(userID, SessionMetadata{})
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)

	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ?", userID).Count(&count).Error)
	require.Zero(t, count)
}
