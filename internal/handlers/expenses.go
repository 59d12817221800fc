package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/expensio/expensio/internal/services"
	"github.com/expensio/expensio/pkg/errors"
	"github.com/expensio/expensio/pkg/response"
)

// ExpenseHandler exposes the expense CRUD, listing, statistics, and bulk
// operations over HTTP. Every operation is scoped to the authenticated owner.
type ExpenseHandler struct {
	expenses *services.ExpenseService
}

func NewExpenseHandler(expenses *services.ExpenseService) *ExpenseHandler {
	return &ExpenseHandler{expenses: expenses}
}

// expenseRequest carries the five payload fields. The same shape serves
// creation and full-field replacement on update.
type expenseRequest struct {
	Amount        *float64 `json:"amount" validate:"required,gte=0"`
	Description   string   `json:"description" validate:"required"`
	Date          string   `json:"date" validate:"required"`
	Category      string   `json:"category" validate:"required"`
	PaymentMethod string   `json:"paymentMethod" validate:"required"`
}

func (r *expenseRequest) toInput(c *gin.Context) (services.ExpenseInput, bool) {
	date, err := parseDateValue(r.Date)
	if err != nil {
		response.Error(c, errors.NewBadRequest("date must be a valid date"))
		return services.ExpenseInput{}, false
	}

	return services.ExpenseInput{
		Amount:        *r.Amount,
		Description:   r.Description,
		Date:          date,
		Category:      r.Category,
		PaymentMethod: r.PaymentMethod,
	}, true
}

// POST /api/expenses
func (h *ExpenseHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req expenseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input, ok := req.toInput(c)
	if !ok {
		return
	}

	expense, err := h.expenses.Create(requestContext(c), userID, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, expense)
}

// GET /api/expenses
func (h *ExpenseHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	startDate, ok := parseDateQuery(c, "startDate")
	if !ok {
		return
	}
	endDate, ok := parseDateQuery(c, "endDate")
	if !ok {
		return
	}

	input := services.ListExpensesInput{
		Category:      c.Query("category"),
		PaymentMethod: c.Query("paymentMethod"),
		StartDate:     startDate,
		EndDate:       endDate,
		Page:          parseIntQuery(c, "page", 1),
		Limit:         parseIntQuery(c, "limit", services.DefaultPageLimit),
	}

	page, source, err := h.expenses.List(requestContext(c), userID, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page.Records, &response.Meta{
		Page:       page.Page,
		PerPage:    page.PerPage,
		Total:      page.Total,
		TotalPages: page.TotalPages,
		Source:     source,
	})
}

// GET /api/expenses/statistics
func (h *ExpenseHandler) Statistics(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	startDate, ok := parseDateQuery(c, "startDate")
	if !ok {
		return
	}
	endDate, ok := parseDateQuery(c, "endDate")
	if !ok {
		return
	}

	stats, err := h.expenses.Statistics(requestContext(c), userID, services.StatisticsInput{
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// PUT /api/expenses/:id
func (h *ExpenseHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req expenseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input, ok := req.toInput(c)
	if !ok {
		return
	}

	expense, err := h.expenses.Update(requestContext(c), userID, c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, expense)
}

// DELETE /api/expenses/:id
func (h *ExpenseHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.expenses.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

// POST /api/expenses/bulk-delete
func (h *ExpenseHandler) BulkDelete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var req bulkDeleteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	deleted, err := h.expenses.BulkDelete(requestContext(c), userID, req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": deleted})
}

// POST /api/expenses/import
func (h *ExpenseHandler) Import(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errors.NewBadRequest("import file is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, errors.NewBadRequest("import file could not be read"))
		return
	}
	defer file.Close()

	result, err := h.expenses.BulkImport(requestContext(c), userID, file)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}
