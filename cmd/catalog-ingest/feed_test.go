package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/smartpick/internal/domain/product"
)

func writeFeed(t *testing.T, dir, name string, rows ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte("id,name,brand,category,price,image\n" + strings.Join(rows, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestCrossCheck(t *testing.T) {
	dir := t.TempDir()
	feeds := []string{
		writeFeed(t, dir, "a.csv.gz",
			"SP-1,Earbuds,Sonic,Audio,2499.00,/e.jpg",
			"SP-2,Mug,Kiln,Home,299,/m.jpg",
			"SP-3,Only In A,X,Misc,10,",
		),
		writeFeed(t, dir, "b.csv.gz",
			"SP-1,Earbuds,Sonic,Audio,2399.50,/e2.jpg",
			"SP-4,Bottle,Hydra,Home,449,/b.jpg",
			"broken row",
		),
		writeFeed(t, dir, "c.csv.gz",
			"SP-2,Mug,Kiln,Home,310,/m.jpg",
			"SP-4,Bottle,Hydra,Home,not-a-price,/b.jpg",
		),
	}

	products, err := crossCheck(context.Background(), feeds, 2)
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "SP-1", products[0].ID)
	assert.True(t, decimal.RequireFromString("2399.50").Equal(products[0].Price), "lowest quoted price wins")
	assert.Equal(t, "/e2.jpg", products[0].ImageURL)

	assert.Equal(t, "SP-2", products[1].ID)
	assert.True(t, decimal.NewFromInt(299).Equal(products[1].Price))

	all, err := crossCheck(context.Background(), feeds, 3)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestParseRow(t *testing.T) {
	p, ok := parseRow([]string{" SP-9 ", "Cable", "Voltix", "Accessories", "151.005", "/c.jpg"})
	require.True(t, ok)
	assert.Equal(t, "SP-9", p.ID)
	assert.True(t, decimal.RequireFromString("151.01").Equal(p.Price))

	_, ok = parseRow([]string{"id", "name", "brand", "category", "price", "image"})
	assert.False(t, ok, "header row")
	_, ok = parseRow([]string{"SP-9", "Cable", "Voltix", "Accessories", "-1", ""})
	assert.False(t, ok)
	_, ok = parseRow([]string{"SP-9", "Cable"})
	assert.False(t, ok)
}

func TestScanFeed_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scanFeed(ctx, strings.NewReader("SP-1,a,b,c,1,\n"), func(p product.Product) {})
	assert.ErrorIs(t, err, context.Canceled)
}
