package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iauth "github.com/expensio/expensio/internal/auth"
	"github.com/expensio/expensio/internal/cache"
	"github.com/expensio/expensio/internal/database/testutil"
	"github.com/expensio/expensio/internal/models"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	user := &models.User{Username: "cleanup-user", Email: "cleanup-user@example.com", Password: "irrelevant"}
	require.NoError(t, db.Create(user).Error)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "secret", Issuer: "test"})
	require.NoError(t, err)

	current := time.Now()
	clock := func() time.Time { return current }

	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{
		RefreshTokenTTL: time.Hour,
		Clock:           clock,
	})
	require.NoError(t, err)

	_, created, err := sessions.CreateSession(user.ID, iauth.SessionMetadata{})
	require.NoError(t, err)

	cacheStore := cache.NewDatabaseStore(db)
	require.NoError(t, cacheStore.Set(context.Background(), "stale-key", []byte("x"), time.Minute))
	require.NoError(t, cacheStore.Set(context.Background(), "eternal-key", []byte("y"), 0))

	// Jump past both the session TTL and the cache entry TTL.
	current = current.Add(2 * time.Hour)

	cleaner := NewCleaner(sessions, cacheStore, WithNow(clock))
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var sessionCount int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", created.ID).Count(&sessionCount).Error)
	require.Zero(t, sessionCount)

	_, found, err := cacheStore.Get(context.Background(), "stale-key")
	require.NoError(t, err)
	require.False(t, found)

	// Entries without expiry survive cleanup.
	value, found, err := cacheStore.Get(context.Background(), "eternal-key")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("y"), value)
}

func TestCleanerStartStop(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "secret"})
	require.NoError(t, err)
	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	cleaner := NewCleaner(sessions, cache.NewDatabaseStore(db))
	require.NoError(t, cleaner.Start())

	done := cleaner.Stop()
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cleaner did not stop in time")
	}
}
