// Package catalog bulk-loads items from a YAML file.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/keyshop/core/bootstrap"
	"github.com/m3rciful/keyshop/core/logger"
	"github.com/m3rciful/keyshop/internal/conversation"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/storage"
)

// Entry is one item as written in the import file. Price is kept as text so
// that 9.90 is not read through a float.
type Entry struct {
	Title  string `yaml:"title"`
	Secret string `yaml:"secret"`
	Price  string `yaml:"price"`
}

type file struct {
	Items []Entry `yaml:"items"`
}

// Inserter stores new items.
type Inserter interface {
	InsertItem(ctx context.Context, in domain.NewItem) (domain.Item, error)
}

// Load decodes and validates an import file. Every entry must pass the same
// checks as the add-item flow; the first failure aborts the load.
func Load(r io.Reader) ([]domain.NewItem, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	out := make([]domain.NewItem, 0, len(f.Items))
	for i, e := range f.Items {
		it, err := e.validate()
		if err != nil {
			return nil, fmt.Errorf("catalog: items[%d]: %w", i, err)
		}
		out = append(out, it)
	}
	return out, nil
}

func (e Entry) validate() (domain.NewItem, error) {
	title, err := conversation.ValidateText(conversation.StepAddTitle, "title", e.Title)
	if err != nil {
		return domain.NewItem{}, err
	}
	secret, err := conversation.ValidateText(conversation.StepAddSecret, "secret", e.Secret)
	if err != nil {
		return domain.NewItem{}, err
	}
	price, err := conversation.ParsePrice(e.Price)
	if err != nil {
		return domain.NewItem{}, err
	}
	return domain.NewItem{Title: title, Secret: secret, Price: price}, nil
}

// Import inserts items in order and returns how many were stored.
func Import(ctx context.Context, dst Inserter, items []domain.NewItem) (int, error) {
	start := time.Now()
	n := 0
	var err error
	for _, it := range items {
		if _, err = dst.InsertItem(ctx, it); err != nil {
			err = fmt.Errorf("catalog: insert %q: %w", it.Title, err)
			break
		}
		n++
	}
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int("items_total", len(items)),
		slog.Int("items_stored", n),
		slog.Duration("duration", logger.Took(start)),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	logger.LogEvent(ctx, logger.SVCCatalog, level, "catalog.import", attrs...)
	return n, err
}

// Seeder returns a bootstrap seeder importing the file at path.
func Seeder(path string) bootstrap.Seeder {
	return bootstrap.SeederFunc(func(ctx context.Context, st bootstrap.Storage) error {
		db, ok := st.(*sqlx.DB)
		if !ok {
			return fmt.Errorf("catalog: unsupported storage %T", st)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		defer f.Close()
		items, err := Load(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		_, err = Import(ctx, storage.New(db), items)
		return err
	})
}
