package api

import (
	"github.com/gin-gonic/gin"

	"github.com/expensio/expensio/internal/handlers"
)

func registerAuthRoutes(r *gin.Engine, requireAuth gin.HandlerFunc, h *handlers.AuthHandler) {
	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
	}

	// Authenticated auth routes
	protected := r.Group("/api/auth")
	protected.Use(requireAuth)
	{
		protected.GET("/me", h.Me)
		protected.POST("/logout", h.Logout)
	}
}
