// Package catalog serves products and categories to shoppers and sellers.
package catalog

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/jogardn/agrimarket/internal/apperr"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPerPage = 12
	MaxPerPage     = 100
	MaxSuggestions = 10
	relatedLimit   = 3
)

type Page struct {
	Products []models.Product `json:"products"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PerPage  int              `json:"per_page"`
}

type RelatedProduct struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
}

// ProductDetail is a product with its reviews and up to three other
// products from the same category.
type ProductDetail struct {
	models.Product
	Reviews                  []models.Review  `json:"reviews"`
	FrequentlyBoughtTogether []RelatedProduct `json:"frequently_bought_together"`
}

type Service struct {
	catalog store.Catalog
	cache   SuggestCache
	logger  *logrus.Logger
}

func NewService(catalog store.Catalog, cache SuggestCache, logger *logrus.Logger) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Service{catalog: catalog, cache: cache, logger: logger}
}

// ListProducts returns one page of products, newest first. page and perPage
// must be at least 1; perPage is capped at MaxPerPage.
func (s *Service) ListProducts(ctx context.Context, search string, page, perPage int) (*Page, error) {
	if page < 1 {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "page must be at least 1")
	}
	if perPage < 1 {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "per_page must be at least 1")
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page-1 > math.MaxInt/perPage {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "page is out of range")
	}

	products, total, err := s.catalog.ListProducts(ctx, store.ProductQuery{
		Search: strings.TrimSpace(search),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to list products")
		return nil, apperr.Persistence(err)
	}
	if products == nil {
		products = []models.Product{}
	}
	return &Page{Products: products, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*ProductDetail, error) {
	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, s.productErr(err, id)
	}

	reviews, err := s.catalog.ListReviews(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("product_id", id).Error("Failed to load reviews")
		return nil, apperr.Persistence(err)
	}
	related, err := s.catalog.RelatedProducts(ctx, *p, relatedLimit)
	if err != nil {
		s.logger.WithError(err).WithField("product_id", id).Error("Failed to load related products")
		return nil, apperr.Persistence(err)
	}

	detail := &ProductDetail{
		Product:                  *p,
		Reviews:                  reviews,
		FrequentlyBoughtTogether: make([]RelatedProduct, 0, len(related)),
	}
	for _, r := range related {
		detail.FrequentlyBoughtTogether = append(detail.FrequentlyBoughtTogether, RelatedProduct{
			ID:    r.ID,
			Title: r.Title,
			Price: r.Price,
		})
	}
	return detail, nil
}

// Autosuggest returns up to MaxSuggestions titles starting with prefix.
// Cache failures fall back to the store.
func (s *Service) Autosuggest(ctx context.Context, prefix string) ([]models.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []models.Suggestion{}, nil
	}

	cached, ok, err := s.cache.Get(ctx, prefix)
	if err != nil {
		s.logger.WithError(err).Warn("Autosuggest cache read failed")
	} else if ok {
		return cached, nil
	}

	suggestions, err := s.catalog.Autosuggest(ctx, prefix, MaxSuggestions)
	if err != nil {
		s.logger.WithError(err).Error("Failed to autosuggest")
		return nil, apperr.Persistence(err)
	}
	if err := s.cache.Set(ctx, prefix, suggestions); err != nil {
		s.logger.WithError(err).Warn("Autosuggest cache write failed")
	}
	return suggestions, nil
}

// NewProduct is the seller-supplied part of a product.
type NewProduct struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CategoryID  *int64          `json:"category_id"`
	Variants    models.Variants `json:"variants"`
	Images      models.Images   `json:"images"`
}

// CreateProduct lists a product for sellerID. Initial stock is only ever set
// here.
func (s *Service) CreateProduct(ctx context.Context, sellerID string, in NewProduct) (*models.Product, error) {
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "title is required")
	case in.Price.IsNegative():
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "price must not be negative")
	case in.Stock < 0:
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "stock must not be negative")
	}

	p := &models.Product{
		Title:       in.Title,
		Description: in.Description,
		Price:       in.Price.Round(2),
		Stock:       in.Stock,
		CategoryID:  in.CategoryID,
		Variants:    in.Variants,
		Images:      in.Images,
	}
	if sellerID != "" {
		p.SellerID = &sellerID
	}

	if err := s.catalog.CreateProduct(ctx, p); err != nil {
		if errors.Is(err, store.ErrNotFound) && in.CategoryID != nil {
			return nil, apperr.NotFound(apperr.CodeCategoryNotFound, "category %d not found", *in.CategoryID)
		}
		s.logger.WithError(err).Error("Failed to create product")
		return nil, apperr.Persistence(err)
	}
	s.invalidate(ctx)

	s.logger.WithFields(logrus.Fields{
		"product_id": p.ID,
		"seller_id":  sellerID,
	}).Info("Product created")
	return p, nil
}

// UpdatePrice changes the live price. Orders already placed keep the price
// they were bought at.
func (s *Service) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (*models.Product, error) {
	if price.IsNegative() {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "price must not be negative")
	}
	if err := s.catalog.UpdatePrice(ctx, id, price.Round(2)); err != nil {
		return nil, s.productErr(err, id)
	}
	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return nil, s.productErr(err, id)
	}
	return p, nil
}

// DeleteProduct removes a listing. Only its seller or an admin may do so.
// Orders that already contain it keep their item snapshots.
func (s *Service) DeleteProduct(ctx context.Context, id, actorID string, admin bool) error {
	p, err := s.catalog.GetProduct(ctx, id)
	if err != nil {
		return s.productErr(err, id)
	}
	if !admin && (p.SellerID == nil || *p.SellerID != actorID) {
		return apperr.New(apperr.KindForbidden, apperr.CodeForbidden, "only the seller or an admin can delete this product")
	}
	if err := s.catalog.DeleteProduct(ctx, id); err != nil {
		return s.productErr(err, id)
	}
	s.invalidate(ctx)

	s.logger.WithFields(logrus.Fields{
		"product_id": id,
		"actor_id":   actorID,
	}).Info("Product deleted")
	return nil
}

func (s *Service) AddReview(ctx context.Context, productID string, r models.Review) (*models.Review, error) {
	if r.Rating < 1 || r.Rating > 5 {
		return nil, apperr.Validation(apperr.CodeInvalidRequest, "rating must be between 1 and 5")
	}
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, s.productErr(err, productID)
	}
	r.ProductID = productID
	if err := s.catalog.CreateReview(ctx, &r); err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Error("Failed to create review")
		return nil, apperr.Persistence(err)
	}
	return &r, nil
}

func (s *Service) productErr(err error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(apperr.CodeProductNotFound, "product %s not found", id)
	}
	s.logger.WithError(err).WithField("product_id", id).Error("Failed to load product")
	return apperr.Persistence(err)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Warn("Autosuggest cache invalidation failed")
	}
}
