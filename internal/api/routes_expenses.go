package api

import (
	"github.com/gin-gonic/gin"

	"github.com/expensio/expensio/internal/handlers"
)

func registerExpenseRoutes(r *gin.Engine, requireAuth gin.HandlerFunc, h *handlers.ExpenseHandler) {
	expenses := r.Group("/api/expenses")
	expenses.Use(requireAuth)
	{
		expenses.POST("", h.Create)
		expenses.GET("", h.List)
		expenses.GET("/statistics", h.Statistics)
		expenses.PUT("/:id", h.Update)
		expenses.DELETE("/:id", h.Delete)
		expenses.POST("/bulk-delete", h.BulkDelete)
		expenses.POST("/import", h.Import)
	}
}
