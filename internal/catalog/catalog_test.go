package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/storage/storagetest"
)

func TestLoad(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "items.yaml"))
	require.NoError(t, err)
	defer f.Close()

	items, err := Load(f)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Steam key (EU)", items[0].Title)
	assert.Equal(t, "9.9", items[0].Price.String())
	assert.Equal(t, "Netflix 1M", items[1].Title)
	assert.Equal(t, "4.5", items[1].Price.String())
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"empty title":   "items:\n  - {title: '', secret: s, price: 1}\n",
		"bad price":     "items:\n  - {title: t, secret: s, price: 1.999}\n",
		"negative":      "items:\n  - {title: t, secret: s, price: -1}\n",
		"unknown field": "items:\n  - {title: t, secret: s, price: 1, stock: 3}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(body))
			assert.Error(t, err)
		})
	}

	_, err := Load(strings.NewReader("items:\n  - {title: t, secret: '', price: 1}\n"))
	assert.True(t, domain.IsValidation(err))
	assert.ErrorContains(t, err, "items[0]")
}

func TestLoadEmpty(t *testing.T) {
	items, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSeederImportsItems(t *testing.T) {
	repo := storagetest.Open(t)
	seeder := Seeder(filepath.Join("testdata", "items.yaml"))
	require.NoError(t, seeder.Seed(context.Background(), repo.DB()))

	items, err := repo.GetAvailableItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	titles := []string{items[0].Title, items[1].Title}
	assert.ElementsMatch(t, []string{"Steam key (EU)", "Netflix 1M"}, titles)
}

func TestSeederRejectsForeignStorage(t *testing.T) {
	err := Seeder("unused.yaml").Seed(context.Background(), "not a db")
	assert.ErrorContains(t, err, "unsupported storage")
}
