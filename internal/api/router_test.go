package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/expensio/expensio/internal/auth"
	"github.com/expensio/expensio/internal/database/testutil"
	"github.com/expensio/expensio/internal/services"
)

func newRouterDeps(t *testing.T) Dependencies {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-secret"})
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	users, err := services.NewUserService(db)
	require.NoError(t, err)

	expenses, err := services.NewExpenseService(db, nil)
	require.NoError(t, err)

	return Dependencies{
		DB:       db,
		JWT:      jwtSvc,
		Sessions: sessions,
		Users:    users,
		Expenses: expenses,
	}
}

func TestNewRouterValidatesDependencies(t *testing.T) {
	deps := newRouterDeps(t)

	cases := []struct {
		name   string
		mutate func(*Dependencies)
	}{
		{"missing db", func(d *Dependencies) { d.DB = nil }},
		{"missing jwt", func(d *Dependencies) { d.JWT = nil }},
		{"missing sessions", func(d *Dependencies) { d.Sessions = nil }},
		{"missing users", func(d *Dependencies) { d.Users = nil }},
		{"missing expenses", func(d *Dependencies) { d.Expenses = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broken := deps
			tc.mutate(&broken)
			_, err := NewRouter(broken)
			require.Error(t, err)
		})
	}
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, err := NewRouter(newRouterDeps(t))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"up"`)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, err := NewRouter(newRouterDeps(t))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "expensio_") ||
		strings.Contains(w.Body.String(), "go_goroutines"))
}

func TestRouterUnknownRoute(t *testing.T) {
	router, err := NewRouter(newRouterDeps(t))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
}
