package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

type SeedDocument struct {
	Categories []SeedCategory `yaml:"categories"`
}

type SeedCategory struct {
	Name     string         `yaml:"name"`
	Children []SeedCategory `yaml:"children"`
	Products []SeedProduct  `yaml:"products"`
}

type SeedProduct struct {
	ID          string              `yaml:"id"`
	Title       string              `yaml:"title"`
	Description string              `yaml:"description"`
	Price       decimal.Decimal     `yaml:"price"`
	Stock       int                 `yaml:"stock"`
	Variants    map[string][]string `yaml:"variants"`
	Images      []string            `yaml:"images"`
	Reviews     []SeedReview        `yaml:"reviews"`
}

type SeedReview struct {
	Rating int    `yaml:"rating"`
	Title  string `yaml:"title"`
	Body   string `yaml:"body"`
}

// LoadSeed parses the seed file at path, or the built-in demo catalog when
// path is empty.
func LoadSeed(path string) (*SeedDocument, error) {
	data := defaultSeed
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
	}
	var doc SeedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &doc, nil
}

// Seed loads doc into an empty catalog and reports how many products it
// created. A catalog that already has products is left alone.
func Seed(ctx context.Context, catalog store.Catalog, doc *SeedDocument, logger *logrus.Logger) (int, error) {
	count, err := catalog.CountProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	if count > 0 {
		logger.WithField("products", count).Info("Catalog already populated, skipping seed")
		return 0, nil
	}

	created := 0
	for _, c := range doc.Categories {
		n, err := seedCategory(ctx, catalog, c, nil)
		created += n
		if err != nil {
			return created, err
		}
	}
	logger.WithField("products", created).Info("Catalog seeded")
	return created, nil
}

func seedCategory(ctx context.Context, catalog store.Catalog, sc SeedCategory, parentID *int64) (int, error) {
	cat := &models.Category{Name: sc.Name, ParentID: parentID}
	if err := catalog.CreateCategory(ctx, cat); err != nil {
		return 0, fmt.Errorf("create category %q: %w", sc.Name, err)
	}

	created := 0
	for _, sp := range sc.Products {
		if sp.Stock < 0 || sp.Price.IsNegative() {
			return created, fmt.Errorf("seed product %q: price and stock must not be negative", sp.Title)
		}
		p := &models.Product{
			ID:          sp.ID,
			Title:       sp.Title,
			Description: sp.Description,
			Price:       sp.Price,
			Stock:       sp.Stock,
			CategoryID:  &cat.ID,
			Variants:    models.Variants(sp.Variants),
			Images:      models.Images(sp.Images),
		}
		if err := catalog.CreateProduct(ctx, p); err != nil {
			return created, fmt.Errorf("create product %q: %w", sp.Title, err)
		}
		created++
		for _, sr := range sp.Reviews {
			r := &models.Review{ProductID: p.ID, Rating: sr.Rating, Title: sr.Title, Body: sr.Body}
			if err := catalog.CreateReview(ctx, r); err != nil {
				return created, fmt.Errorf("create review for %q: %w", sp.Title, err)
			}
		}
	}

	for _, child := range sc.Children {
		n, err := seedCategory(ctx, catalog, child, &cat.ID)
		created += n
		if err != nil {
			return created, err
		}
	}
	return created, nil
}
