package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/expensio/expensio/internal/database/testutil"
)

// memoryCacheStore is a map-backed cache used to observe cache-aside
// behaviour without a running Redis.
type memoryCacheStore struct {
	mu   sync.Mutex
	data map[string]memoryCacheEntry
	sets int
	gets int
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func newMemoryCacheStore() *memoryCacheStore {
	return &memoryCacheStore{data: make(map[string]memoryCacheEntry)}
}

func (s *memoryCacheStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return 1, window, nil
}

func (s *memoryCacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[key] = memoryCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memoryCacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	entry, ok := s.data[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *memoryCacheStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func createTestUser(t *testing.T, db *gorm.DB) string {
	t.Helper()

	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.Register(context.Background(), RegisterUserInput{
		Username: "user-" + strings.ReplaceAll(t.Name(), "/", "-") + "-" + time.Now().Format("150405.000000000"),
		Email:    time.Now().Format("150405.000000000") + "-" + strings.ReplaceAll(t.Name(), "/", "-") + "@example.com",
		Password: "correct horse battery staple",
	})
	require.NoError(t, err)
	return user.ID
}

func newTestExpenseService(t *testing.T, db *gorm.DB, store *memoryCacheStore) *ExpenseService {
	t.Helper()

	var svc *ExpenseService
	var err error
	if store != nil {
		svc, err = NewExpenseService(db, store)
	} else {
		svc, err = NewExpenseService(db, nil)
	}
	require.NoError(t, err)
	return svc
}

func sampleInput(amount float64, date time.Time, category string) ExpenseInput {
	return ExpenseInput{
		Amount:        amount,
		Description:   "sample expense",
		Date:          date,
		Category:      category,
		PaymentMethod: "card",
	}
}

func TestExpenseAddGetRoundTrip(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	date := time.Date(2024, time.March, 14, 12, 30, 0, 0, time.UTC)
	created, err := svc.Create(context.Background(), owner, ExpenseInput{
		Amount:        42.5,
		Description:   "groceries",
		Date:          date,
		Category:      "food",
		PaymentMethod: "debit",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	fetched, err := svc.Get(context.Background(), owner, created.ID)
	require.NoError(t, err)
	require.Equal(t, owner, fetched.OwnerID)
	require.Equal(t, 42.5, fetched.Amount)
	require.Equal(t, "groceries", fetched.Description)
	require.True(t, fetched.Date.Equal(date))
	require.Equal(t, "food", fetched.Category)
	require.Equal(t, "debit", fetched.PaymentMethod)
}

func TestExpenseCreateValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	cases := map[string]ExpenseInput{
		"negative amount":    {Amount: -1, Description: "x", Date: date, Category: "c", PaymentMethod: "m"},
		"missing desc":       {Amount: 1, Date: date, Category: "c", PaymentMethod: "m"},
		"missing date":       {Amount: 1, Description: "x", Category: "c", PaymentMethod: "m"},
		"missing category":   {Amount: 1, Description: "x", Date: date, PaymentMethod: "m"},
		"missing pay method": {Amount: 1, Description: "x", Date: date, Category: "c"},
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), owner, input)
			require.Error(t, err)
		})
	}
}

func TestExpenseOwnerIsolation(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ownerA := createTestUser(t, db)
	ownerB := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	date := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	recA, err := svc.Create(context.Background(), ownerA, sampleInput(10, date, "food"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), ownerB, sampleInput(20, date, "food"))
	require.NoError(t, err)

	page, _, err := svc.List(context.Background(), ownerA, ListExpensesInput{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, recA.ID, page.Records[0].ID)

	// B cannot read or mutate A's record.
	_, err = svc.Get(context.Background(), ownerB, recA.ID)
	require.ErrorIs(t, err, ErrExpenseNotFound)
	_, err = svc.Update(context.Background(), ownerB, recA.ID, sampleInput(99, date, "other"))
	require.ErrorIs(t, err, ErrExpenseNotFound)
	require.ErrorIs(t, svc.Delete(context.Background(), ownerB, recA.ID), ErrExpenseNotFound)
}

func TestExpenseListCacheAside(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	store := newMemoryCacheStore()
	svc := newTestExpenseService(t, db, store)

	date := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), owner, sampleInput(float64(i+1), date.AddDate(0, 0, i), "food"))
		require.NoError(t, err)
	}

	query := ListExpensesInput{Category: "food", Page: 1, Limit: 10}

	first, source, err := svc.List(context.Background(), owner, query)
	require.NoError(t, err)
	require.Equal(t, SourceDatabase, source)
	require.Equal(t, 1, store.sets)

	second, source, err := svc.List(context.Background(), owner, query)
	require.NoError(t, err)
	require.Equal(t, SourceCache, source)
	// No second cache population on a hit.
	require.Equal(t, 1, store.sets)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, firstJSON, secondJSON)
}

func TestExpenseListCacheKeyDeterminism(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newTestExpenseService(t, db, nil)

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)

	a := svc.ListCacheKey("owner-1", ListExpensesInput{Category: "food", PaymentMethod: "card", StartDate: &start, EndDate: &end, Page: 2, Limit: 5})
	b := svc.ListCacheKey("owner-1", ListExpensesInput{PaymentMethod: "card", Category: "food", EndDate: &end, StartDate: &start, Limit: 5, Page: 2})
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "expenses:owner-1:"))

	// Any parameter change must move to a different cache slot.
	require.NotEqual(t, a, svc.ListCacheKey("owner-2", ListExpensesInput{Category: "food", PaymentMethod: "card", StartDate: &start, EndDate: &end, Page: 2, Limit: 5}))
	require.NotEqual(t, a, svc.ListCacheKey("owner-1", ListExpensesInput{Category: "rent", PaymentMethod: "card", StartDate: &start, EndDate: &end, Page: 2, Limit: 5}))
	require.NotEqual(t, a, svc.ListCacheKey("owner-1", ListExpensesInput{Category: "food", PaymentMethod: "card", StartDate: &start, EndDate: &end, Page: 3, Limit: 5}))
}

func TestExpenseListCacheFailureDegradesToDatabase(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil) // no cache at all

	date := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
	_, err := svc.Create(context.Background(), owner, sampleInput(5, date, "food"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		page, source, err := svc.List(context.Background(), owner, ListExpensesInput{})
		require.NoError(t, err)
		require.Equal(t, SourceDatabase, source)
		require.Len(t, page.Records, 1)
	}
}

func TestExpensePagination(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		_, err := svc.Create(context.Background(), owner, sampleInput(float64(i+1), base.AddDate(0, 0, i), "food"))
		require.NoError(t, err)
	}

	page, _, err := svc.List(context.Background(), owner, ListExpensesInput{Page: 3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Records, 5)
	require.EqualValues(t, 25, page.Total)
	require.Equal(t, 3, page.Page)
	require.Equal(t, 10, page.PerPage)
	require.Equal(t, 3, page.TotalPages)

	// Sorted by date descending: page 3 holds the five oldest records.
	require.True(t, page.Records[0].Date.After(page.Records[4].Date))
	require.True(t, page.Records[4].Date.Equal(base))
}

func TestExpenseListNormalisesLimit(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	_, err := svc.Create(context.Background(), owner, sampleInput(5, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), "food"))
	require.NoError(t, err)

	// An out-of-range limit falls back to the default, and the page reports
	// the limit it was actually built with.
	page, _, err := svc.List(context.Background(), owner, ListExpensesInput{Page: -2, Limit: -5})
	require.NoError(t, err)
	require.Equal(t, 1, page.Page)
	require.Equal(t, DefaultPageLimit, page.PerPage)
}

func TestExpenseStatisticsExample(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	for i, amount := range []float64{10, 20, 30} {
		date := time.Date(2024, time.January, 5+i, 0, 0, 0, 0, time.UTC)
		_, err := svc.Create(context.Background(), owner, sampleInput(amount, date, "food"))
		require.NoError(t, err)
	}

	stats, err := svc.Statistics(context.Background(), owner, StatisticsInput{})
	require.NoError(t, err)
	require.Equal(t, 60.0, stats.TotalExpenses)
	require.Equal(t, 20.0, stats.AverageExpense)
	require.Equal(t, map[string]float64{"food": 60}, stats.ExpensesByCategory)
	require.Equal(t, map[string]float64{"2024-1": 60}, stats.ExpensesByMonth)
}

func TestExpenseStatisticsEmpty(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	stats, err := svc.Statistics(context.Background(), owner, StatisticsInput{})
	require.NoError(t, err)
	require.Zero(t, stats.TotalExpenses)
	require.Zero(t, stats.AverageExpense)
	require.NotNil(t, stats.ExpensesByCategory)
	require.NotNil(t, stats.ExpensesByMonth)
	require.Empty(t, stats.ExpensesByCategory)
	require.Empty(t, stats.ExpensesByMonth)
}

func TestExpenseStatisticsDateRange(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	january := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	march := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	_, err := svc.Create(context.Background(), owner, sampleInput(10, january, "food"))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), owner, sampleInput(25, march, "rent"))
	require.NoError(t, err)

	start := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)
	stats, err := svc.Statistics(context.Background(), owner, StatisticsInput{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Equal(t, 25.0, stats.TotalExpenses)
	require.Equal(t, map[string]float64{"rent": 25}, stats.ExpensesByCategory)
	require.Equal(t, map[string]float64{"2024-3": 25}, stats.ExpensesByMonth)
}

func TestExpenseUpdateReplacesAllFields(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	created, err := svc.Create(context.Background(), owner, sampleInput(10, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), "food"))
	require.NoError(t, err)

	newDate := time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC)
	updated, err := svc.Update(context.Background(), owner, created.ID, ExpenseInput{
		Amount:        99.99,
		Description:   "rent april",
		Date:          newDate,
		Category:      "rent",
		PaymentMethod: "transfer",
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, 99.99, updated.Amount)
	require.Equal(t, "rent april", updated.Description)
	require.True(t, updated.Date.Equal(newDate))
	require.Equal(t, "rent", updated.Category)
	require.Equal(t, "transfer", updated.PaymentMethod)
}

func TestExpenseBulkDeleteMixedIDs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ownerA := createTestUser(t, db)
	ownerB := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	date := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	mine, err := svc.Create(context.Background(), ownerA, sampleInput(10, date, "food"))
	require.NoError(t, err)
	theirs, err := svc.Create(context.Background(), ownerB, sampleInput(20, date, "food"))
	require.NoError(t, err)

	deleted, err := svc.BulkDelete(context.Background(), ownerA, []string{mine.ID, "does-not-exist", theirs.ID})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	// The other owner's record survives.
	_, err = svc.Get(context.Background(), ownerB, theirs.ID)
	require.NoError(t, err)
}

func TestExpenseBulkDeleteRequiresIDs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	_, err := svc.BulkDelete(context.Background(), owner, nil)
	require.Error(t, err)
	_, err = svc.BulkDelete(context.Background(), owner, []string{"  ", ""})
	require.Error(t, err)
}

func TestExpenseUpdateDeleteNotFound(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	date := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Update(context.Background(), owner, "missing-id", sampleInput(10, date, "food"))
	require.ErrorIs(t, err, ErrExpenseNotFound)
	require.ErrorIs(t, svc.Delete(context.Background(), owner, "missing-id"), ErrExpenseNotFound)

	page, _, err := svc.List(context.Background(), owner, ListExpensesInput{})
	require.NoError(t, err)
	require.Empty(t, page.Records)
}

func TestExpenseBulkImport(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	csvPayload := strings.Join([]string{
		"amount,description,date,category,paymentMethod",
		"12.50,lunch,2024-02-01,food,card",
		"",
		"not-a-number,broken,2024-02-02,food,card",
		"30,rent,not-a-date,rent,transfer",
		"7.25,coffee,2024-02-03,food,cash",
	}, "\n")

	result, err := svc.BulkImport(context.Background(), owner, strings.NewReader(csvPayload))
	require.NoError(t, err)
	require.Equal(t, 2, result.Imported)
	require.Len(t, result.Records, 2)
	require.Len(t, result.Skipped, 2)
	require.Equal(t, "invalid amount", result.Skipped[0].Reason)
	require.Equal(t, "invalid date", result.Skipped[1].Reason)

	// Reported lines are physical file positions: the blank line at line 3
	// does not shift them.
	require.Equal(t, 4, result.Skipped[0].Line)
	require.Equal(t, 5, result.Skipped[1].Line)

	page, _, err := svc.List(context.Background(), owner, ListExpensesInput{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
}

func TestExpenseBulkImportRejectsMissingPayload(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	owner := createTestUser(t, db)
	svc := newTestExpenseService(t, db, nil)

	_, err := svc.BulkImport(context.Background(), owner, nil)
	require.Error(t, err)

	_, err = svc.BulkImport(context.Background(), owner, strings.NewReader(""))
	require.Error(t, err)

	_, err = svc.BulkImport(context.Background(), owner, strings.NewReader("amount,description\n1,x\n"))
	require.Error(t, err)
}
