// Command seed-db loads the book catalog from a JSON file and provisions a
// test user with an API key. Safe to re-run: everything is upserted.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmarkhas/bookcart/internal/postgres"
)

type bookJSON struct {
	ID         uuid.UUID       `json:"id"`
	Title      string          `json:"title"`
	Authors    []string        `json:"authors"`
	Categories []string        `json:"categories"`
	Price      decimal.Decimal `json:"price"`
	Discount   int             `json:"discount"`
	Rating     float64         `json:"rating"`
	StockCount int             `json:"stock_count"`
}

func main() {
	var (
		databaseURL  string
		booksFile    string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&booksFile, "books-file", "db/seed/books.json", "path to books JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or CART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CART_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or CART_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, booksFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, booksFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedBooks(ctx, pool, booksFile); err != nil {
		return errors.Wrap(err, "seed books")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

const upsertBookSQL = `
INSERT INTO books (id, title, authors, categories, price, discount, rating, stock_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    title       = EXCLUDED.title,
    authors     = EXCLUDED.authors,
    categories  = EXCLUDED.categories,
    price       = EXCLUDED.price,
    discount    = EXCLUDED.discount,
    rating      = EXCLUDED.rating,
    stock_count = EXCLUDED.stock_count`

func seedBooks(ctx context.Context, pool *pgxpool.Pool, booksFile string) error {
	slog.Info("reading books file", slog.String("path", booksFile))

	data, err := os.ReadFile(booksFile)
	if err != nil {
		return errors.Wrap(err, "read books file")
	}

	var books []bookJSON
	if err := json.Unmarshal(data, &books); err != nil {
		return errors.Wrap(err, "parse books JSON")
	}

	slog.Info("upserting books", slog.Int("count", len(books)))

	for _, b := range books {
		_, err := pool.Exec(ctx, upsertBookSQL,
			b.ID, b.Title, b.Authors, b.Categories, b.Price, b.Discount, b.Rating, b.StockCount)
		if err != nil {
			return errors.Wrapf(err, "upsert book %s", b.ID)
		}

		slog.Info("upserted book", slog.String("id", b.ID.String()), slog.String("title", b.Title))
	}

	return nil
}

const (
	upsertUserSQL = `
INSERT INTO users (name, email) VALUES ($1, $2)
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

	upsertAPIKeySQL = `
INSERT INTO api_keys (id, key_hash, user_id, name) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    key_hash = EXCLUDED.key_hash,
    user_id  = EXCLUDED.user_id,
    name     = EXCLUDED.name`
)

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default user and API key")

	var userID int64
	err := pool.QueryRow(ctx, upsertUserSQL, "Test User", "test@example.com").Scan(&userID)
	if err != nil {
		return errors.Wrap(err, "upsert default user")
	}

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, upsertAPIKeySQL, "default", keyHash, userID, "Default test key"); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.Int64("user_id", userID))

	return nil
}
