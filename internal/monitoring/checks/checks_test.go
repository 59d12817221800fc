package checks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/expensio/expensio/internal/cache"
	"github.com/expensio/expensio/internal/database/testutil"
	"github.com/expensio/expensio/internal/monitoring"
)

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	result := Database(db, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = Database(nil, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestCacheCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)

	result := Cache(store, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	// A missing cache degrades the report rather than failing it.
	result = Cache(nil, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
}
