package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/financial-tracker/internal/models"
	"github.com/smartdevs17/financial-tracker/internal/notification"
	"github.com/smartdevs17/financial-tracker/internal/storage"
	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// memStore keeps the ledger in memory with the same balance rules as the
// PostgreSQL storage.
type memStore struct {
	mu           sync.Mutex
	users        map[int64]*models.User
	currencies   []*models.Currency
	categories   map[int64]*models.Category
	balances     map[int64]*models.Balance
	transactions map[int64]*models.Transaction
	nextID       int64
	clock        func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[int64]*models.User{},
		categories:   map[int64]*models.Category{},
		balances:     map[int64]*models.Balance{},
		transactions: map[int64]*models.Transaction{},
		clock:        time.Now,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addCurrency(code, name, rate string) *models.Currency {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Currency{ID: m.id(), Code: code, Name: name, RateToUAH: decimal.RequireFromString(rate)}
	m.currencies = append(m.currencies, c)
	return c
}

func (m *memStore) addUser(u *models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.id()
	m.users[u.ID] = u
	return u
}

func (m *memStore) balanceAmount(userID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[userID]; ok {
		return b.Amount
	}
	return decimal.Zero
}

func (m *memStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "User not found")
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) UpdateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memStore) GetCurrency(ctx context.Context, code string) (*models.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.currencies {
		if c.Code == code {
			return c, nil
		}
	}
	return nil, utils.NewAppError(utils.ErrCodeNotFound, "Currency not found")
}

func (m *memStore) FirstCurrency(ctx context.Context) (*models.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.currencies) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "No currency found in the system")
	}
	return m.currencies[0], nil
}

func (m *memStore) EnsureCurrency(ctx context.Context, code, name string) (*models.Currency, error) {
	if c, err := m.GetCurrency(ctx, code); err == nil {
		return c, nil
	}
	return m.addCurrency(code, name, "1"), nil
}

func (m *memStore) ListCategories(ctx context.Context, userID int64) ([]*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Category
	for _, c := range m.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) GetCategory(ctx context.Context, userID, id int64) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok || c.UserID != userID {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Category not found")
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) findCategory(userID int64, name string) *models.Category {
	for _, c := range m.categories {
		if c.UserID == userID && c.Name == name {
			return c
		}
	}
	return nil
}

func (m *memStore) CreateCategory(ctx context.Context, category *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findCategory(category.UserID, category.Name) != nil {
		return utils.NewAppError(utils.ErrCodeConflict, "Category with this name already exists", category.Name)
	}
	category.ID = m.id()
	category.CreatedAt = m.clock()
	copied := *category
	m.categories[category.ID] = &copied
	return nil
}

func (m *memStore) GetOrCreateCategory(ctx context.Context, userID int64, name string) (*models.Category, error) {
	m.mu.Lock()
	if c := m.findCategory(userID, name); c != nil {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	c := &models.Category{UserID: userID, Name: name}
	return c, m.CreateCategory(ctx, c)
}

func (m *memStore) UpdateCategory(ctx context.Context, category *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.categories[category.ID]
	if !ok || existing.UserID != category.UserID {
		return utils.NewAppError(utils.ErrCodeNotFound, "Category not found")
	}
	if other := m.findCategory(category.UserID, category.Name); other != nil && other.ID != category.ID {
		return utils.NewAppError(utils.ErrCodeConflict, "Category with this name already exists", category.Name)
	}
	existing.Name = category.Name
	return nil
}

func (m *memStore) DeleteCategory(ctx context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok || c.UserID != userID {
		return utils.NewAppError(utils.ErrCodeNotFound, "Category not found")
	}
	for _, t := range m.transactions {
		if t.CategoryID == id {
			return utils.NewAppError(utils.ErrCodeValidation, "Unable to delete a category used in transactions")
		}
	}
	delete(m.categories, id)
	return nil
}

func (m *memStore) GetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Balance not found")
	}
	copied := *b
	return &copied, nil
}

func (m *memStore) CreateBalance(ctx context.Context, balance *models.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[balance.UserID]; ok {
		return utils.NewAppError(utils.ErrCodeConflict, "Balance already exists")
	}
	balance.ID = m.id()
	copied := *balance
	m.balances[balance.UserID] = &copied
	return nil
}

// ensureBalance must be called with the lock held
func (m *memStore) ensureBalance(userID int64) (*models.Balance, error) {
	if b, ok := m.balances[userID]; ok {
		return b, nil
	}
	if len(m.currencies) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "No currency found in the system")
	}
	b := &models.Balance{ID: m.id(), UserID: userID, CurrencyID: m.currencies[0].ID, Currency: m.currencies[0]}
	m.balances[userID] = b
	return b, nil
}

func (m *memStore) ResetBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.transactions {
		if t.UserID == userID {
			delete(m.transactions, id)
		}
	}
	for id, c := range m.categories {
		if c.UserID == userID {
			delete(m.categories, id)
		}
	}
	b, err := m.ensureBalance(userID)
	if err != nil {
		return nil, err
	}
	b.Amount = decimal.Zero
	copied := *b
	return &copied, nil
}

func (m *memStore) CreateTransaction(ctx context.Context, t *models.Transaction, requireFunds bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.ensureBalance(t.UserID)
	if err != nil {
		return err
	}
	if requireFunds && t.Type == models.TransactionExpense && b.Amount.Sub(t.AmountUAH).IsNegative() {
		return storage.InsufficientFunds(b.Amount, t.AmountUAH)
	}
	if err := storage.CheckBalance(b.Amount.Add(t.Effect())); err != nil {
		return err
	}
	t.ID = m.id()
	t.CreatedAt = m.clock()
	copied := *t
	m.transactions[t.ID] = &copied
	b.Amount = b.Amount.Add(t.Effect())
	return nil
}

func (m *memStore) UpdateTransaction(ctx context.Context, t *models.Transaction, requireFunds bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.transactions[t.ID]
	if !ok || old.UserID != t.UserID {
		return utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found")
	}
	b, err := m.ensureBalance(t.UserID)
	if err != nil {
		return err
	}
	available := b.Amount.Sub(old.Effect())
	if requireFunds && t.Type == models.TransactionExpense && available.Sub(t.AmountUAH).IsNegative() {
		return storage.InsufficientFunds(available, t.AmountUAH)
	}
	if err := storage.CheckBalance(available.Add(t.Effect())); err != nil {
		return err
	}
	b.Amount = available.Add(t.Effect())
	t.CreatedAt = old.CreatedAt
	copied := *t
	m.transactions[t.ID] = &copied
	return nil
}

func (m *memStore) DeleteTransaction(ctx context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.transactions[id]
	if !ok || old.UserID != userID {
		return utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found")
	}
	delete(m.transactions, id)
	if b, ok := m.balances[userID]; ok {
		b.Amount = b.Amount.Sub(old.Effect())
	}
	return nil
}

func (m *memStore) GetTransaction(ctx context.Context, userID, id int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || t.UserID != userID {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Transaction not found")
	}
	copied := *t
	return &copied, nil
}

func (m *memStore) ListTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	categories := map[int64]bool{}
	for _, id := range filter.CategoryIDs {
		categories[id] = true
	}

	var out []*models.Transaction
	for _, t := range m.transactions {
		if t.UserID != userID {
			continue
		}
		if len(categories) > 0 && !categories[t.CategoryID] {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.MinAmount != nil && t.Amount.LessThan(*filter.MinAmount) {
			continue
		}
		if filter.MaxAmount != nil && t.Amount.GreaterThan(*filter.MaxAmount) {
			continue
		}
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) SumExpensesSince(ctx context.Context, userID int64, since time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, t := range m.transactions {
		if t.UserID == userID && t.Type == models.TransactionExpense && !t.CreatedAt.Before(since) {
			total = total.Add(t.AmountUAH)
		}
	}
	return total, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*notification.Message
}

func (r *recordingNotifier) Notify(ctx context.Context, msg *notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingNotifier) subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, m.Subject)
	}
	return out
}
