package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultSessionTTL is how long a shopping session stays valid after creation.
const DefaultSessionTTL = 24 * time.Hour

// Service implements cart operations on top of the session store, the cart
// store and the cache. Caching is explicit cache-aside: GetCart consults the
// cache first, every successful mutation re-assembles and re-caches.
type Service struct {
	sessions   SessionStore
	store      Store
	cache      Cache
	sessionTTL time.Duration
	lg         *zap.Logger
	now        func() time.Time
}

// NewService creates a cart Service. A nil logger defaults to zap.NewNop.
func NewService(sessions SessionStore, store Store, cache Cache, sessionTTL time.Duration, lg *zap.Logger) *Service {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		sessions:   sessions,
		store:      store,
		cache:      cache,
		sessionTTL: sessionTTL,
		lg:         lg,
		now:        time.Now,
	}
}

// CreateSession starts a new shopping session. userID is nil for guest carts;
// an authenticated user may hold at most one active session at a time.
func (s *Service) CreateSession(ctx context.Context, userID *int64) (*ShoppingSession, error) {
	session := &ShoppingSession{
		ID:        uuid.New(),
		UserID:    userID,
		Total:     decimal.Zero,
		ExpiresAt: s.now().Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, ErrCartExists) {
			return nil, ErrCartExists
		}
		return nil, errors.Wrap(err, "create session")
	}
	return session, nil
}

// GetSession loads a session and treats an expired one as missing.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*ShoppingSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// GetCart returns the assembled cart for a session. An unexpired cache entry
// is returned directly, bypassing the store; otherwise the cart is assembled
// and written through.
func (s *Service) GetCart(ctx context.Context, sessionID uuid.UUID) (*Cart, error) {
	if cached, err := s.cache.Get(ctx, sessionID); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		s.lg.Warn("cart cache read failed, falling back to store",
			zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	return s.assembleAndCache(ctx, sessionID)
}

// AddItem reserves qty from the book's stock and adds it to the cart in a
// single transaction, then returns the reassembled cart.
func (s *Service) AddItem(ctx context.Context, sessionID, bookID uuid.UUID, qty int) (*Cart, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := s.store.Add(ctx, sessionID, bookID, qty); err != nil {
		return nil, err
	}
	return s.assembleAndCache(ctx, sessionID)
}

// RemoveItem deletes a line item. Stock already reserved by the line is
// consumed, not returned: restocking is an explicit catalog operation outside
// the cart. The remaining cart is returned; removing the last line yields an
// empty cart with no error.
func (s *Service) RemoveItem(ctx context.Context, sessionID, bookID uuid.UUID) (*Cart, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := s.store.Remove(ctx, sessionID, bookID); err != nil {
		return nil, err
	}

	c, err := s.assembleAndCache(ctx, sessionID)
	if errors.Is(err, ErrCartNotFound) {
		// Last line removed. Drop the stale cache entry and report empty.
		s.invalidate(ctx, sessionID)
		return &Cart{SessionID: sessionID}, nil
	}
	return c, err
}

// DeleteSession tears down a session, its line items, and its cache entry.
// Idempotent: deleting a missing session succeeds.
func (s *Service) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, "delete session")
	}
	s.invalidate(ctx, sessionID)
	return nil
}

// assembleAndCache reads the authoritative cart and writes it through to the
// cache. Cache write failures are logged and swallowed.
func (s *Service) assembleAndCache(ctx context.Context, sessionID uuid.UUID) (*Cart, error) {
	c, err := s.store.Assemble(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Store(ctx, c); err != nil {
		s.lg.Warn("cart cache write failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	return c, nil
}

func (s *Service) invalidate(ctx context.Context, sessionID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, sessionID); err != nil {
		s.lg.Warn("cart cache invalidation failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}
