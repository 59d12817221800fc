package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/expensio/expensio/internal/cache"
	"github.com/expensio/expensio/internal/models"
	apperrors "github.com/expensio/expensio/pkg/errors"
	"github.com/expensio/expensio/pkg/logger"
	"github.com/expensio/expensio/pkg/metrics"
)

var (
	// ErrExpenseNotFound indicates the requested expense does not exist or
	// belongs to a different owner. The two cases are deliberately
	// indistinguishable to callers.
	ErrExpenseNotFound = apperrors.New("EXPENSE_NOT_FOUND", "Expense not found", http.StatusNotFound)
)

const (
	// ListCacheTTL bounds how stale a cached list page may be. Writes do not
	// invalidate cached pages; readers accept up to this much staleness in
	// exchange for never paying a count+find on a repeated query.
	ListCacheTTL = 300 * time.Second

	// DefaultPageLimit applies when the caller does not specify a page size.
	DefaultPageLimit = 10

	listCacheKeyPrefix = "expenses:"

	// SourceCache and SourceDatabase tag where a list page was served from.
	SourceCache    = "cache"
	SourceDatabase = "database"
)

// ExpenseInput carries the five payload fields of an expense. It is used for
// both creation and full-field replacement on update.
type ExpenseInput struct {
	Amount        float64
	Description   string
	Date          time.Time
	Category      string
	PaymentMethod string
}

// ListExpensesInput captures the filter and pagination parameters of a list
// query. The date range only applies when both bounds are present.
type ListExpensesInput struct {
	Category      string
	PaymentMethod string
	StartDate     *time.Time
	EndDate       *time.Time
	Page          int
	Limit         int
}

// ExpensePage is the composed result of a list query. It is the unit of cache
// storage: the whole page, metadata included, is serialised under one key.
type ExpensePage struct {
	Records    []models.Expense `json:"records"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PerPage    int              `json:"perPage"`
	TotalPages int              `json:"totalPages"`
}

// StatisticsInput bounds the aggregation window. Nil bounds fall back to the
// epoch and the current time respectively; both bounds are inclusive.
type StatisticsInput struct {
	StartDate *time.Time
	EndDate   *time.Time
}

// Statistics summarises an owner's spending inside a date window.
// AverageExpense is 0 when no records match; the grouped maps are empty but
// never nil.
type Statistics struct {
	TotalExpenses      float64            `json:"totalExpenses"`
	AverageExpense     float64            `json:"averageExpense"`
	ExpensesByCategory map[string]float64 `json:"expensesByCategory"`
	ExpensesByMonth    map[string]float64 `json:"expensesByMonth"`
}

// ImportRowError reports a CSV data row that could not be turned into an
// expense record. Line numbers are 1-based physical file positions, counting
// the header row and any blank lines.
type ImportRowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportResult summarises a bulk CSV ingest.
type ImportResult struct {
	Imported int              `json:"imported"`
	Records  []models.Expense `json:"records"`
	Skipped  []ImportRowError `json:"skipped,omitempty"`
}

// listCacheKey is the canonical, ordered shape serialised into the cache key.
// Field order is fixed by the struct definition, so the same parameter values
// always produce the same key regardless of how the request encoded them.
type listCacheKey struct {
	Category      string `json:"category,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
	Page          int    `json:"page"`
	Limit         int    `json:"limit"`
}

// ExpenseService implements owner-scoped CRUD, the cache-aside list path,
// statistics aggregation, and CSV bulk ingest.
type ExpenseService struct {
	db       *gorm.DB
	cache    cache.Store
	cacheTTL time.Duration
	now      func() time.Time
}

// ExpenseServiceOption customises an ExpenseService.
type ExpenseServiceOption func(*ExpenseService)

// WithCacheTTL overrides the list page TTL.
func WithCacheTTL(ttl time.Duration) ExpenseServiceOption {
	return func(s *ExpenseService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithClock overrides the time source, used by statistics default bounds.
func WithClock(clock func() time.Time) ExpenseServiceOption {
	return func(s *ExpenseService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewExpenseService constructs the expense service. The cache store may be
// nil, in which case every list read goes to the database.
func NewExpenseService(db *gorm.DB, store cache.Store, opts ...ExpenseServiceOption) (*ExpenseService, error) {
	if db == nil {
		return nil, errors.New("expense service: db is required")
	}

	svc := &ExpenseService{
		db:       db,
		cache:    store,
		cacheTTL: ListCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create inserts a single expense owned by the caller.
func (s *ExpenseService) Create(ctx context.Context, ownerID string, input ExpenseInput) (*models.Expense, error) {
	ctx = ensureContext(ctx)

	if err := validateExpenseInput(ownerID, input); err != nil {
		return nil, err
	}

	expense := &models.Expense{
		OwnerID:       ownerID,
		Amount:        input.Amount,
		Description:   strings.TrimSpace(input.Description),
		Date:          input.Date,
		Category:      strings.TrimSpace(input.Category),
		PaymentMethod: strings.TrimSpace(input.PaymentMethod),
	}

	if err := s.db.WithContext(ctx).Create(expense).Error; err != nil {
		return nil, fmt.Errorf("expense service: create expense: %w", err)
	}

	return expense, nil
}

// Get fetches one expense by id, scoped to the owner.
func (s *ExpenseService) Get(ctx context.Context, ownerID, id string) (*models.Expense, error) {
	ctx = ensureContext(ctx)

	var expense models.Expense
	err := s.db.WithContext(ctx).
		Take(&expense, "id = ? AND owner_id = ?", id, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExpenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("expense service: get expense: %w", err)
	}

	return &expense, nil
}

// List returns a page of the owner's expenses, preferring a cached copy.
// The returned source tag reports whether the page came from the cache or the
// database. Cache failures in either direction are absorbed: a broken cache
// degrades the read path to database-always, it never fails a request.
func (s *ExpenseService) List(ctx context.Context, ownerID string, input ListExpensesInput) (*ExpensePage, string, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(ownerID) == "" {
		return nil, "", apperrors.NewBadRequest("owner is required")
	}

	input = normaliseListInput(input)
	key := s.listCacheKeyFor(ownerID, input)

	if s.cache != nil {
		if data, found, err := s.cache.Get(ctx, key); err == nil && found {
			var page ExpensePage
			if err := json.Unmarshal(data, &page); err == nil {
				metrics.ExpenseListLookups.WithLabelValues(SourceCache).Inc()
				return &page, SourceCache, nil
			}
		}
	}

	page, err := s.listFromDatabase(ctx, ownerID, input)
	if err != nil {
		return nil, "", err
	}

	metrics.ExpenseListLookups.WithLabelValues(SourceDatabase).Inc()

	if s.cache != nil {
		if payload, err := json.Marshal(page); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
				logger.WithModule("expenses").Debug("list cache population failed: " + err.Error())
			}
		}
	}

	return page, SourceDatabase, nil
}

// ListCacheKey exposes the derived cache key for a query. Two requests with
// the same owner and parameter values always share a key.
func (s *ExpenseService) ListCacheKey(ownerID string, input ListExpensesInput) string {
	return s.listCacheKeyFor(ownerID, normaliseListInput(input))
}

func (s *ExpenseService) listCacheKeyFor(ownerID string, input ListExpensesInput) string {
	key := listCacheKey{
		Category:      strings.TrimSpace(input.Category),
		PaymentMethod: strings.TrimSpace(input.PaymentMethod),
		Page:          input.Page,
		Limit:         input.Limit,
	}
	if input.StartDate != nil && input.EndDate != nil {
		key.StartDate = input.StartDate.UTC().Format(time.RFC3339)
		key.EndDate = input.EndDate.UTC().Format(time.RFC3339)
	}

	// Marshalling a fixed struct is deterministic; field order never varies.
	encoded, _ := json.Marshal(key)
	return listCacheKeyPrefix + ownerID + ":" + string(encoded)
}

func (s *ExpenseService) listFromDatabase(ctx context.Context, ownerID string, input ListExpensesInput) (*ExpensePage, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Expense{}).
		Where("owner_id = ?", ownerID)
	query = applyListFilters(query, input)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("expense service: count expenses: %w", err)
	}

	records := make([]models.Expense, 0, input.Limit)
	err := query.
		Order("date DESC").
		Offset((input.Page - 1) * input.Limit).
		Limit(input.Limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("expense service: list expenses: %w", err)
	}

	return &ExpensePage{
		Records:    records,
		Total:      total,
		Page:       input.Page,
		PerPage:    input.Limit,
		TotalPages: int(math.Ceil(float64(total) / float64(input.Limit))),
	}, nil
}

// Statistics aggregates the owner's expenses inside the requested window into
// a total, a mean, and per-category / per-month sums. It performs a single
// filtered fetch and folds in process, which keeps the grouping semantics
// identical across SQL dialects.
func (s *ExpenseService) Statistics(ctx context.Context, ownerID string, input StatisticsInput) (*Statistics, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(ownerID) == "" {
		return nil, apperrors.NewBadRequest("owner is required")
	}

	start := time.Unix(0, 0).UTC()
	if input.StartDate != nil {
		start = *input.StartDate
	}
	end := s.now()
	if input.EndDate != nil {
		end = *input.EndDate
	}

	var rows []models.Expense
	err := s.db.WithContext(ctx).
		Select("amount", "date", "category").
		Where("owner_id = ? AND date >= ? AND date <= ?", ownerID, start, end).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("expense service: fetch statistics rows: %w", err)
	}

	stats := &Statistics{
		ExpensesByCategory: make(map[string]float64),
		ExpensesByMonth:    make(map[string]float64),
	}

	for _, row := range rows {
		stats.TotalExpenses += row.Amount
		stats.ExpensesByCategory[row.Category] += row.Amount
		stats.ExpensesByMonth[monthKey(row.Date)] += row.Amount
	}

	// Empty window: average stays 0 rather than dividing by zero.
	if len(rows) > 0 {
		stats.AverageExpense = stats.TotalExpenses / float64(len(rows))
	}

	return stats, nil
}

// Update replaces all five payload fields of an expense, scoped to the owner.
// A missing or foreign id yields not-found; ownership is part of the lookup
// filter, not a separate check.
func (s *ExpenseService) Update(ctx context.Context, ownerID, id string, input ExpenseInput) (*models.Expense, error) {
	ctx = ensureContext(ctx)

	if err := validateExpenseInput(ownerID, input); err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).
		Model(&models.Expense{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(map[string]any{
			"amount":         input.Amount,
			"description":    strings.TrimSpace(input.Description),
			"date":           input.Date,
			"category":       strings.TrimSpace(input.Category),
			"payment_method": strings.TrimSpace(input.PaymentMethod),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("expense service: update expense: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrExpenseNotFound
	}

	return s.Get(ctx, ownerID, id)
}

// Delete removes one expense by id, scoped to the owner.
func (s *ExpenseService) Delete(ctx context.Context, ownerID, id string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&models.Expense{})
	if result.Error != nil {
		return fmt.Errorf("expense service: delete expense: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrExpenseNotFound
	}

	return nil
}

// BulkDelete removes every listed id the owner actually holds and reports the
// number deleted. Foreign and nonexistent ids are silently ignored.
func (s *ExpenseService) BulkDelete(ctx context.Context, ownerID string, ids []string) (int64, error) {
	ctx = ensureContext(ctx)

	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return 0, apperrors.NewBadRequest("at least one expense id is required")
	}

	result := s.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Delete(&models.Expense{})
	if result.Error != nil {
		return 0, fmt.Errorf("expense service: bulk delete expenses: %w", result.Error)
	}

	return result.RowsAffected, nil
}

var csvHeader = []string{"amount", "description", "date", "category", "paymentMethod"}

// BulkImport parses a CSV payload into expense records owned by the caller
// and inserts them as one batch. Rows with an unparseable amount or date are
// skipped and reported per row rather than failing the whole batch.
func (s *ExpenseService) BulkImport(ctx context.Context, ownerID string, payload io.Reader) (*ImportResult, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(ownerID) == "" {
		return nil, apperrors.NewBadRequest("owner is required")
	}
	if payload == nil {
		return nil, apperrors.NewBadRequest("import file is required")
	}

	reader := csv.NewReader(payload)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.NewBadRequest("import file is empty")
	}
	if err != nil {
		return nil, apperrors.NewBadRequest("import file is not valid CSV")
	}

	columns, err := mapImportHeader(header)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	var records []models.Expense

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			result.Skipped = append(result.Skipped, ImportRowError{Line: line, Reason: "malformed CSV row"})
			continue
		}
		if isEmptyRow(row) {
			continue
		}

		// FieldPos reports the physical line of the row just read, so blank
		// lines the reader skips do not shift reported positions.
		line, _ := reader.FieldPos(0)

		record, reason := buildImportRecord(ownerID, columns, row)
		if reason != "" {
			result.Skipped = append(result.Skipped, ImportRowError{Line: line, Reason: reason})
			continue
		}
		records = append(records, record)
	}

	if len(records) > 0 {
		if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
			return nil, fmt.Errorf("expense service: insert imported expenses: %w", err)
		}
	}

	result.Imported = len(records)
	result.Records = records

	metrics.ImportedRows.WithLabelValues("inserted").Add(float64(len(records)))
	metrics.ImportedRows.WithLabelValues("skipped").Add(float64(len(result.Skipped)))

	return result, nil
}

func validateExpenseInput(ownerID string, input ExpenseInput) error {
	if strings.TrimSpace(ownerID) == "" {
		return apperrors.NewBadRequest("owner is required")
	}
	if input.Amount < 0 {
		return apperrors.NewBadRequest("amount must not be negative")
	}
	if strings.TrimSpace(input.Description) == "" {
		return apperrors.NewBadRequest("description is required")
	}
	if input.Date.IsZero() {
		return apperrors.NewBadRequest("date is required")
	}
	if strings.TrimSpace(input.Category) == "" {
		return apperrors.NewBadRequest("category is required")
	}
	if strings.TrimSpace(input.PaymentMethod) == "" {
		return apperrors.NewBadRequest("payment method is required")
	}
	return nil
}

func normaliseListInput(input ListExpensesInput) ListExpensesInput {
	if input.Page < 1 {
		input.Page = 1
	}
	if input.Limit < 1 {
		input.Limit = DefaultPageLimit
	}
	// The date range only applies with both bounds present.
	if input.StartDate == nil || input.EndDate == nil {
		input.StartDate = nil
		input.EndDate = nil
	}
	return input
}

func applyListFilters(query *gorm.DB, input ListExpensesInput) *gorm.DB {
	if category := strings.TrimSpace(input.Category); category != "" {
		query = query.Where("category = ?", category)
	}
	if method := strings.TrimSpace(input.PaymentMethod); method != "" {
		query = query.Where("payment_method = ?", method)
	}
	if input.StartDate != nil && input.EndDate != nil {
		query = query.Where("date >= ? AND date <= ?", *input.StartDate, *input.EndDate)
	}
	return query
}

// monthKey renders the calendar year-month of a date with the month numeric
// and not zero-padded, e.g. "2024-1" for January 2024.
func monthKey(date time.Time) string {
	return fmt.Sprintf("%d-%d", date.Year(), int(date.Month()))
}

func mapImportHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range csvHeader {
		if _, ok := columns[name]; !ok {
			return nil, apperrors.NewBadRequest("import file is missing column " + strconv.Quote(name))
		}
	}
	return columns, nil
}

func isEmptyRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

var importDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func buildImportRecord(ownerID string, columns map[string]int, row []string) (models.Expense, string) {
	field := func(name string) string {
		idx := columns[name]
		if idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	amount, err := strconv.ParseFloat(field("amount"), 64)
	if err != nil || amount < 0 {
		return models.Expense{}, "invalid amount"
	}

	date, err := parseImportDate(field("date"))
	if err != nil {
		return models.Expense{}, "invalid date"
	}

	description := field("description")
	category := field("category")
	paymentMethod := field("paymentMethod")
	if description == "" || category == "" || paymentMethod == "" {
		return models.Expense{}, "missing required field"
	}

	return models.Expense{
		OwnerID:       ownerID,
		Amount:        amount,
		Description:   description,
		Date:          date,
		Category:      category,
		PaymentMethod: paymentMethod,
	}, ""
}

func parseImportDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range importDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, errors.New("unrecognised date format")
}
