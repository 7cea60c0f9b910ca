package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sort"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/smartpick/internal/domain/product"
	"github.com/xenking/smartpick/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		minFeeds    int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing supplier feeds (*.csv.gz)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&minFeeds, "min-feeds", 2, "number of feeds that must list a product before it is imported")
	flag.BoolVar(&dryRun, "dry-run", false, "report the products that would be imported without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, minFeeds, dryRun); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, minFeeds int, dryRun bool) error {
	feeds, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	sort.Strings(feeds)
	if len(feeds) < minFeeds {
		return errors.Errorf("found %d feeds in %s, need at least %d", len(feeds), dataDir, minFeeds)
	}

	products, err := crossCheck(ctx, feeds, minFeeds)
	if err != nil {
		return err
	}

	slog.Info("products listed by enough feeds", slog.Int("count", len(products)), slog.Int("min_feeds", minFeeds))

	if dryRun || len(products) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeProducts(ctx, postgres.NewProductRepository(pool), products)
}

// writeProducts upserts products with a bounded number of concurrent writes.
func writeProducts(ctx context.Context, repo product.Writer, products []product.Product) error {
	slog.Info("writing products to database", slog.Int("count", len(products)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for chunk := range slices.Chunk(products, 500) {
		g.Go(func() error {
			for _, p := range chunk {
				if err := repo.Upsert(ctx, p); err != nil {
					return errors.Wrapf(err, "upsert product %s", p.ID)
				}
			}
			slog.Info("write progress", slog.String("last_id", chunk[len(chunk)-1].ID), slog.Int("written", len(chunk)))
			return nil
		})
	}
	return g.Wait()
}
