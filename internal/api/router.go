package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	iauth "github.com/expensio/expensio/internal/auth"
	"github.com/expensio/expensio/internal/cache"
	"github.com/expensio/expensio/internal/handlers"
	"github.com/expensio/expensio/internal/middleware"
	"github.com/expensio/expensio/internal/monitoring"
	"github.com/expensio/expensio/internal/monitoring/checks"
	"github.com/expensio/expensio/internal/services"
)

// Dependencies bundles the services the router wires into handlers.
type Dependencies struct {
	DB       *gorm.DB
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Users    *services.UserService
	Expenses *services.ExpenseService

	// Cache is optional; when set the health endpoint probes it.
	Cache cache.Store

	// RateStore is optional; when nil an in-memory limiter is used.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user service must be provided")
	}
	if deps.Expenses == nil {
		return nil, fmt.Errorf("expense service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Basic rate limiting: 100 requests/minute per IP+path
	if deps.RateStore != nil {
		r.Use(middleware.RateLimitWithStore(deps.RateStore, 100, time.Minute))
	} else {
		r.Use(middleware.RateLimit(100, time.Minute))
	}

	// Health endpoint (public)
	health := monitoring.NewHealthManager()
	health.Register(checks.Database(deps.DB, 0))
	if deps.Cache != nil {
		health.Register(checks.Cache(deps.Cache, 0))
	}
	r.GET("/health", handlers.Health(health))

	authHandler := handlers.NewAuthHandler(deps.Users, deps.Sessions)
	expenseHandler := handlers.NewExpenseHandler(deps.Expenses)

	requireAuth := middleware.Auth(deps.JWT)

	registerAuthRoutes(r, requireAuth, authHandler)
	registerExpenseRoutes(r, requireAuth, expenseHandler)

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
