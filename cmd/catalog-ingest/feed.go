package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/smartpick/internal/domain/product"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	// feedColumns is id,name,brand,category,price,image.
	feedColumns = 6
)

// listing is one product row of a supplier feed.
type listing struct {
	product.Product
	feeds uint
}

// crossCheck keeps the products listed by at least minFeeds feeds. The
// first pass builds one bloom filter of product ids per feed; the second
// re-reads every feed and keeps rows whose id another feed probably lists.
// Surviving products take the lowest price any feed quotes.
func crossCheck(ctx context.Context, feeds []string, minFeeds int) ([]product.Product, error) {
	if len(feeds) > bits.UintSize {
		return nil, errors.Errorf("at most %d feeds are supported", bits.UintSize)
	}

	slog.Info("pass 1: building bloom filters", slog.Int("feeds", len(feeds)))

	filters := make([]*bloom.BloomFilter, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range feeds {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			n, err := readFeed(gctx, path, func(p product.Product) {
				filter.AddString(p.ID)
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			slog.Info("pass 1 complete", slog.String("feed", path), slog.Uint64("rows", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("pass 2: collecting candidates")

	results := make([]map[string]listing, len(feeds))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range feeds {
		g.Go(func() error {
			candidates := make(map[string]listing)
			bit := uint(1) << uint(i)
			n, err := readFeed(gctx, path, func(p product.Product) {
				for j, f := range filters {
					if j != i && f.TestString(p.ID) {
						candidates[p.ID] = listing{Product: p, feeds: bit}
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			slog.Info("pass 2 complete",
				slog.String("feed", path),
				slog.Uint64("rows", n),
				slog.Int("candidates", len(candidates)),
			)
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(results, minFeeds), nil
}

// merge combines per-feed candidates. Bloom false positives drop out here
// because a product must actually be present in minFeeds candidate sets.
func merge(results []map[string]listing, minFeeds int) []product.Product {
	merged := make(map[string]listing)
	for _, r := range results {
		for id, l := range r {
			cur, ok := merged[id]
			if !ok {
				merged[id] = l
				continue
			}
			cur.feeds |= l.feeds
			if l.Price.LessThan(cur.Price) {
				cur.Product = l.Product
			}
			merged[id] = cur
		}
	}

	var out []product.Product
	for _, l := range merged {
		if bits.OnesCount(l.feeds) >= minFeeds {
			out = append(out, l.Product)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// readFeed streams a gzipped CSV feed and calls fn for every valid row.
// Malformed rows are skipped.
func readFeed(ctx context.Context, path string, fn func(product.Product)) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return scanFeed(ctx, gz, fn)
}

func scanFeed(ctx context.Context, r io.Reader, fn func(product.Product)) (uint64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var n uint64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return n, errors.Wrap(err, "read row")
		}

		p, ok := parseRow(rec)
		if !ok {
			continue
		}
		n++
		if n%progressEvery == 0 {
			slog.Info("feed progress", slog.Uint64("rows", n))
		}
		fn(p)
	}
}

// parseRow converts a feed row. The header row and rows with a bad price
// are rejected.
func parseRow(rec []string) (product.Product, bool) {
	if len(rec) != feedColumns {
		return product.Product{}, false
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	price, err := decimal.NewFromString(rec[4])
	if err != nil || price.IsNegative() || rec[0] == "" {
		return product.Product{}, false
	}
	return product.Product{
		ID:       rec[0],
		Name:     rec[1],
		Brand:    rec[2],
		Category: rec[3],
		Price:    price.Round(2),
		ImageURL: rec[5],
	}, true
}
