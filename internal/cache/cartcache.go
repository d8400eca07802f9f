// Package cache implements the Redis-backed cart cache: a TTL-bound
// projection of assembled carts. It is never a consistency source; callers
// fall back to the store whenever the backend misbehaves.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/dmarkhas/bookcart/internal/domain/cart"
)

// DefaultTTL matches the reference deployment: cart projections live 10s.
const DefaultTTL = 10 * time.Second

const (
	cartKeyPrefix = "cart:" // set of book ids per session
	bookKeyPrefix = "book:" // hash of display fields per book
)

var _ cart.Cache = (*CartCache)(nil)

// CartCache stores each session's cart as a Redis set of book ids
// (cart:{session_id}) plus one hash per book (book:{book_id}) carrying the
// display fields. Both expire with the same TTL. List-valued fields are
// serialized as JSON strings since the storage is text-only; UUIDs degrade to
// their string form.
type CartCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a CartCache over an injected client. The connection lifecycle
// is owned by the process bootstrap, not by this package.
func New(client *redis.Client, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CartCache{client: client, ttl: ttl}
}

// Get returns the cached cart for a session, or cart.ErrCacheMiss when no
// unexpired entry exists. Backend failures are wrapped so callers can log
// and bypass.
func (c *CartCache) Get(ctx context.Context, sessionID uuid.UUID) (*cart.Cart, error) {
	setKey := cartKeyPrefix + sessionID.String()

	exists, err := c.client.Exists(ctx, setKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "cache exists")
	}
	if exists == 0 {
		return nil, cart.ErrCacheMiss
	}

	bookIDs, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "cache smembers")
	}

	out := &cart.Cart{SessionID: sessionID}
	for _, id := range bookIDs {
		fields, err := c.client.HGetAll(ctx, bookKeyPrefix+id).Result()
		if err != nil {
			return nil, errors.Wrap(err, "cache hgetall")
		}
		if len(fields) == 0 {
			// The book hash expired ahead of the set: treat the whole entry
			// as a miss rather than serving a partial cart.
			return nil, cart.ErrCacheMiss
		}
		line, err := decodeLine(fields)
		if err != nil {
			return nil, errors.Wrap(err, "decode cached book")
		}
		out.Books = append(out.Books, line)
	}
	return out, nil
}

// Store writes the assembled cart through to the cache. All keys share one
// TTL so the projection expires as a unit. An empty cart only clears the
// previous entry: a set with no members cannot exist in Redis.
func (c *CartCache) Store(ctx context.Context, crt *cart.Cart) error {
	setKey := cartKeyPrefix + crt.SessionID.String()

	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, setKey)
		for _, line := range crt.Books {
			bookKey := bookKeyPrefix + line.BookID.String()
			p.HSet(ctx, bookKey, encodeLine(line))
			p.Expire(ctx, bookKey, c.ttl)
			p.SAdd(ctx, setKey, line.BookID.String())
		}
		p.Expire(ctx, setKey, c.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "cache store")
	}
	return nil
}

// Invalidate drops a session's cache entry. The per-book hashes are left to
// their TTL: they may still serve other sessions.
func (c *CartCache) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.client.Del(ctx, cartKeyPrefix+sessionID.String()).Err(); err != nil {
		return errors.Wrap(err, "cache invalidate")
	}
	return nil
}

func encodeLine(l cart.BookLine) map[string]string {
	return map[string]string{
		"book_id":    l.BookID.String(),
		"title":      l.Title,
		"authors":    encodeList(l.Authors),
		"categories": encodeList(l.Categories),
		"price":      l.Price.String(),
		"discount":   strconv.Itoa(l.Discount),
		"rating":     strconv.FormatFloat(l.Rating, 'f', -1, 64),
		"quantity":   strconv.Itoa(l.Quantity),
	}
}

func decodeLine(fields map[string]string) (cart.BookLine, error) {
	bookID, err := uuid.Parse(fields["book_id"])
	if err != nil {
		return cart.BookLine{}, errors.Wrap(err, "book_id")
	}
	authors, err := decodeList(fields["authors"])
	if err != nil {
		return cart.BookLine{}, errors.Wrap(err, "authors")
	}
	categories, err := decodeList(fields["categories"])
	if err != nil {
		return cart.BookLine{}, errors.Wrap(err, "categories")
	}
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return cart.BookLine{}, errors.Wrap(err, "price")
	}
	discount, err := strconv.Atoi(fields["discount"])
	if err != nil {
		return cart.BookLine{}, errors.Wrap(err, "discount")
	}
	rating, err := strconv.ParseFloat(fields["rating"], 64)
	if err != nil {
		return cart.BookLine{}, errors.Wrap(err, "rating")
	}
	quantity, err := strconv.Atoi(fields["quantity"])
	if err != nil {
		return cart.BookLine{}, errors.Wrap(err, "quantity")
	}

	return cart.BookLine{
		BookID:     bookID,
		Title:      fields["title"],
		Authors:    authors,
		Categories: categories,
		Price:      price,
		Discount:   discount,
		Rating:     rating,
		Quantity:   quantity,
	}, nil
}

// encodeList serializes a string list as a JSON array for the text-only
// hash field.
func encodeList(vals []string) string {
	var e jx.Encoder
	e.ArrStart()
	for _, v := range vals {
		e.Str(v)
	}
	e.ArrEnd()
	return e.String()
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	d := jx.DecodeStr(raw)
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}
