package cart

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarkhas/bookcart/internal/domain/book"
)

// --- Mock implementations ---

type mockSessionStore struct {
	sessions map[uuid.UUID]*ShoppingSession
	byUser   map[int64]uuid.UUID
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		sessions: make(map[uuid.UUID]*ShoppingSession),
		byUser:   make(map[int64]uuid.UUID),
	}
}

func (m *mockSessionStore) Create(_ context.Context, s *ShoppingSession) error {
	if s.UserID != nil {
		if _, ok := m.byUser[*s.UserID]; ok {
			return ErrCartExists
		}
		m.byUser[*s.UserID] = s.ID
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *mockSessionStore) GetByID(_ context.Context, id uuid.UUID) (*ShoppingSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *mockSessionStore) Delete(_ context.Context, id uuid.UUID) error {
	if s, ok := m.sessions[id]; ok && s.UserID != nil {
		delete(m.byUser, *s.UserID)
	}
	delete(m.sessions, id)
	return nil
}

// mockStore backs the cart with in-memory book stock, mirroring the
// reservation semantics of the SQL store: adds decrement stock, removals do
// not restore it.
type mockStore struct {
	stock map[uuid.UUID]*book.Book
	lines map[uuid.UUID]map[uuid.UUID]int // session -> book -> qty
}

func newMockStore(books ...*book.Book) *mockStore {
	stock := make(map[uuid.UUID]*book.Book, len(books))
	for _, b := range books {
		stock[b.ID] = b
	}
	return &mockStore{
		stock: stock,
		lines: make(map[uuid.UUID]map[uuid.UUID]int),
	}
}

func (m *mockStore) Assemble(_ context.Context, sessionID uuid.UUID) (*Cart, error) {
	lines := m.lines[sessionID]
	if len(lines) == 0 {
		return nil, ErrCartNotFound
	}
	out := &Cart{SessionID: sessionID}
	for bookID, qty := range lines {
		b := m.stock[bookID]
		out.Books = append(out.Books, BookLine{
			BookID:   b.ID,
			Title:    b.Title,
			Price:    b.Price,
			Discount: b.Discount,
			Quantity: qty,
		})
	}
	return out, nil
}

func (m *mockStore) Add(_ context.Context, sessionID, bookID uuid.UUID, qty int) error {
	b, ok := m.stock[bookID]
	if !ok {
		return book.ErrNotFound
	}
	if qty > b.StockCount {
		return &OutOfStockError{BookID: bookID, Available: b.StockCount}
	}
	b.StockCount -= qty
	if m.lines[sessionID] == nil {
		m.lines[sessionID] = make(map[uuid.UUID]int)
	}
	m.lines[sessionID][bookID] += qty
	return nil
}

func (m *mockStore) Remove(_ context.Context, sessionID, bookID uuid.UUID) error {
	lines := m.lines[sessionID]
	if _, ok := lines[bookID]; !ok {
		return ErrLineNotFound
	}
	delete(lines, bookID)
	return nil
}

func (m *mockStore) DeleteAll(_ context.Context, sessionID uuid.UUID) error {
	delete(m.lines, sessionID)
	return nil
}

type mockCache struct {
	carts      map[uuid.UUID]*Cart
	getErr     error
	storeErr   error
	storeCalls int
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[uuid.UUID]*Cart)}
}

func (m *mockCache) Get(_ context.Context, sessionID uuid.UUID) (*Cart, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.carts[sessionID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return c, nil
}

func (m *mockCache) Store(_ context.Context, c *Cart) error {
	m.storeCalls++
	if m.storeErr != nil {
		return m.storeErr
	}
	m.carts[c.SessionID] = c
	return nil
}

func (m *mockCache) Invalidate(_ context.Context, sessionID uuid.UUID) error {
	delete(m.carts, sessionID)
	return nil
}

// --- Helpers ---

func newTestBook(title string, price string, stock int) *book.Book {
	return &book.Book{
		ID:         uuid.New(),
		Title:      title,
		Price:      decimal.RequireFromString(price),
		StockCount: stock,
	}
}

func newTestService(store *mockStore, cache Cache) (*Service, *mockSessionStore) {
	sessions := newMockSessionStore()
	svc := NewService(sessions, store, cache, time.Hour, nil)
	return svc, sessions
}

func mustCreateSession(t *testing.T, svc *Service, userID *int64) *ShoppingSession {
	t.Helper()
	s, err := svc.CreateSession(context.Background(), userID)
	require.NoError(t, err)
	return s
}

// --- Tests ---

func TestCreateSession_Guest(t *testing.T) {
	svc, _ := newTestService(newMockStore(), newMockCache())

	s := mustCreateSession(t, svc, nil)
	assert.Nil(t, s.UserID)
	assert.True(t, s.Total.IsZero())
	assert.True(t, s.ExpiresAt.After(time.Now()))
}

func TestCreateSession_SecondCartForUser(t *testing.T) {
	svc, _ := newTestService(newMockStore(), newMockCache())
	userID := int64(7)

	mustCreateSession(t, svc, &userID)
	_, err := svc.CreateSession(context.Background(), &userID)
	require.ErrorIs(t, err, ErrCartExists)
}

func TestCreateSession_UserCanRecreateAfterDelete(t *testing.T) {
	svc, _ := newTestService(newMockStore(), newMockCache())
	userID := int64(7)

	s := mustCreateSession(t, svc, &userID)
	require.NoError(t, svc.DeleteSession(context.Background(), s.ID))

	mustCreateSession(t, svc, &userID)
}

func TestGetSession_Expired(t *testing.T) {
	svc, sessions := newTestService(newMockStore(), newMockCache())
	s := mustCreateSession(t, svc, nil)

	sessions.sessions[s.ID].ExpiresAt = time.Now().Add(-time.Minute)

	_, err := svc.GetSession(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAddItem_StockReservation(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	store := newMockStore(b)
	svc, _ := newTestService(store, newMockCache())
	s := mustCreateSession(t, svc, nil)
	ctx := context.Background()

	c, err := svc.AddItem(ctx, s.ID, b.ID, 3)
	require.NoError(t, err)
	require.Len(t, c.Books, 1)
	assert.Equal(t, 3, c.Books[0].Quantity)
	assert.Equal(t, 2, b.StockCount)

	// Second add of 3 exceeds the 2 remaining.
	_, err = svc.AddItem(ctx, s.ID, b.ID, 3)
	var oos *OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 2, oos.Available)
	assert.Equal(t, 2, b.StockCount)

	// Adding exactly the remainder drains the stock.
	c, err = svc.AddItem(ctx, s.ID, b.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Books[0].Quantity)
	assert.Equal(t, 0, b.StockCount)
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	svc, _ := newTestService(newMockStore(b), newMockCache())
	s := mustCreateSession(t, svc, nil)

	_, err := svc.AddItem(context.Background(), s.ID, b.ID, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.AddItem(context.Background(), s.ID, b.ID, -1)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAddItem_UnknownSession(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	svc, _ := newTestService(newMockStore(b), newMockCache())

	_, err := svc.AddItem(context.Background(), uuid.New(), b.ID, 1)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAddItem_UnknownBook(t *testing.T) {
	svc, _ := newTestService(newMockStore(), newMockCache())
	s := mustCreateSession(t, svc, nil)

	_, err := svc.AddItem(context.Background(), s.ID, uuid.New(), 1)
	require.ErrorIs(t, err, book.ErrNotFound)
}

func TestRemoveItem_StockStaysConsumed(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	store := newMockStore(b)
	svc, _ := newTestService(store, newMockCache())
	s := mustCreateSession(t, svc, nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, s.ID, b.ID, 3)
	require.NoError(t, err)

	c, err := svc.RemoveItem(ctx, s.ID, b.ID)
	require.NoError(t, err)
	assert.Empty(t, c.Books)

	// Reserved stock is consumed, not returned.
	assert.Equal(t, 2, b.StockCount)
}

func TestRemoveItem_LineNotFound(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	svc, _ := newTestService(newMockStore(b), newMockCache())
	s := mustCreateSession(t, svc, nil)

	_, err := svc.RemoveItem(context.Background(), s.ID, b.ID)
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestGetCart_EmptyIsNotFound(t *testing.T) {
	svc, _ := newTestService(newMockStore(), newMockCache())
	s := mustCreateSession(t, svc, nil)

	_, err := svc.GetCart(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrCartNotFound)
}

func TestGetCart_CacheHitBypassesStore(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	store := newMockStore(b)
	cache := newMockCache()
	svc, _ := newTestService(store, cache)
	s := mustCreateSession(t, svc, nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, s.ID, b.ID, 1)
	require.NoError(t, err)

	// Drop the line from the store; the cached projection still serves.
	require.NoError(t, store.Remove(ctx, s.ID, b.ID))

	c, err := svc.GetCart(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, c.Books, 1)
}

func TestGetCart_CacheFailureFallsBack(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	store := newMockStore(b)
	cache := newMockCache()
	svc, _ := newTestService(store, cache)
	s := mustCreateSession(t, svc, nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, s.ID, b.ID, 2)
	require.NoError(t, err)

	cache.getErr = errors.New("connection refused")

	c, err := svc.GetCart(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, c.Books, 1)
	assert.Equal(t, 2, c.Books[0].Quantity)
}

func TestAddItem_CacheWriteFailureIsSwallowed(t *testing.T) {
	b := newTestBook("Widget Book", "10.00", 5)
	cache := newMockCache()
	cache.storeErr = errors.New("connection refused")
	svc, _ := newTestService(newMockStore(b), cache)
	s := mustCreateSession(t, svc, nil)

	c, err := svc.AddItem(context.Background(), s.ID, b.ID, 1)
	require.NoError(t, err)
	require.Len(t, c.Books, 1)
	assert.Positive(t, cache.storeCalls)
}

func TestDeleteSession_Idempotent(t *testing.T) {
	svc, _ := newTestService(newMockStore(), newMockCache())
	s := mustCreateSession(t, svc, nil)
	ctx := context.Background()

	require.NoError(t, svc.DeleteSession(ctx, s.ID))
	require.NoError(t, svc.DeleteSession(ctx, s.ID))
}

func TestCartTotal_AppliesDiscounts(t *testing.T) {
	c := &Cart{
		Books: []BookLine{
			{Price: decimal.RequireFromString("10.00"), Discount: 10, Quantity: 2}, // 9.00 x 2
			{Price: decimal.RequireFromString("5.50"), Quantity: 1},                // 5.50
		},
	}
	assert.Equal(t, "23.50", c.Total().StringFixed(2))
}
