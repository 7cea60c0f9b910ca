package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/smartpick/db"
	"github.com/xenking/smartpick/internal/domain/auth"
	"github.com/xenking/smartpick/internal/domain/product"
	"github.com/xenking/smartpick/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
	jwtSecret    string
	devUser      string
}

func main() {
	_ = godotenv.Load()

	var o options
	flag.StringVar(&o.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&o.productsFile, "products-file", "", "products JSON file; the embedded catalog when empty")
	flag.StringVar(&o.apiKey, "api-key", "", "admin API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&o.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.StringVar(&o.jwtSecret, "jwt-secret", "", "print a dev bearer token signed with this secret (or KART_JWT_SECRET env)")
	flag.StringVar(&o.devUser, "dev-user", "dev-user", "user id of the printed dev token")
	flag.Parse()

	o.databaseURL = orEnv(o.databaseURL, "DATABASE_URL", "KART_DATABASE_URL")
	o.apiKey = orEnv(o.apiKey, "KART_SEED_API_KEY")
	o.apiKeyPepper = orEnv(o.apiKeyPepper, "KART_API_KEY_PEPPER")
	o.jwtSecret = orEnv(o.jwtSecret, "KART_JWT_SECRET")

	if o.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if o.apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, o); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func orEnv(v string, names ...string) string {
	for _, name := range names {
		if v != "" {
			return v
		}
		v = os.Getenv(name)
	}
	return v
}

func run(ctx context.Context, o options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, o.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), o.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), o.apiKey, o.apiKeyPepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if o.jwtSecret != "" {
		if err := printDevToken(o.jwtSecret, o.devUser); err != nil {
			return errors.Wrap(err, "issue dev token")
		}
	}

	return nil
}

func seedProducts(ctx context.Context, repo product.Writer, productsFile string) error {
	data := db.SeedProducts
	if productsFile != "" {
		slog.Info("reading products file", slog.String("path", productsFile))

		var err error
		if data, err = os.ReadFile(productsFile); err != nil {
			return errors.Wrap(err, "read products file")
		}
	}

	var products []product.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if p.ID == "" || p.Price.IsNegative() {
			return errors.Errorf("invalid product %q", p.ID)
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

type apiKeyWriter interface {
	Upsert(ctx context.Context, info auth.APIKeyInfo) error
}

func seedAPIKey(ctx context.Context, repo apiKeyWriter, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	info := auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashAPIKey(apiKey, []byte(pepper)),
		Name:    "Order fulfilment admin",
		Scopes:  []string{auth.ScopeManageOrders},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}

// printDevToken writes a week-long bearer token for local testing to stdout.
func printDevToken(secret, userID string) error {
	tokens := auth.NewTokens([]byte(secret), 7*24*time.Hour)
	token, err := tokens.Issue(auth.User{
		ID:    userID,
		Email: userID + "@smartpick.local",
		Name:  "Dev Shopper",
		Phone: "9876543210",
	})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
