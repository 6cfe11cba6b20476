package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const productColumns = `id, title, COALESCE(description, '') AS description, price, stock,
	category_id, variants, images, seller_id, created_at`

func (s *Store) ListProducts(ctx context.Context, q store.ProductQuery) ([]models.Product, int, error) {
	pattern := containsPattern(q.Search)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM products WHERE title ILIKE $1`, pattern); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	products := []models.Product{}
	query := `SELECT ` + productColumns + ` FROM products
		WHERE title ILIKE $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &products, query, pattern, q.Limit, q.Offset); err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := s.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	var products []models.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	if err := s.db.SelectContext(ctx, &products, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return indexProducts(products), nil
}

func (s *Store) Autosuggest(ctx context.Context, prefix string, limit int) ([]models.Suggestion, error) {
	out := []models.Suggestion{}
	query := `SELECT id, title FROM products WHERE title ILIKE $1 ORDER BY title, id LIMIT $2`
	if err := s.db.SelectContext(ctx, &out, query, prefixPattern(prefix), limit); err != nil {
		return nil, fmt.Errorf("autosuggest: %w", err)
	}
	return out, nil
}

func (s *Store) RelatedProducts(ctx context.Context, p models.Product, limit int) ([]models.Product, error) {
	out := []models.Product{}
	if p.CategoryID == nil {
		return out, nil
	}
	query := `SELECT ` + productColumns + ` FROM products
		WHERE category_id = $1 AND id <> $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	if err := s.db.SelectContext(ctx, &out, query, *p.CategoryID, p.ID, limit); err != nil {
		return nil, fmt.Errorf("related products: %w", err)
	}
	return out, nil
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM products`); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Variants == nil {
		p.Variants = models.Variants{}
	}
	if p.Images == nil {
		p.Images = models.Images{}
	}
	query := `INSERT INTO products
		(id, title, description, price, stock, category_id, variants, images, seller_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at`
	err := s.db.QueryRowxContext(ctx, query,
		p.ID, p.Title, p.Description, p.Price, p.Stock, p.CategoryID, p.Variants, p.Images, p.SellerID,
	).Scan(&p.CreatedAt)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET price = $2 WHERE id = $1`, id, price)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteProduct removes the product row. Reviews cascade; order_items keep
// their snapshot because product_id carries no foreign key.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListReviews(ctx context.Context, productID string) ([]models.Review, error) {
	out := []models.Review{}
	query := `SELECT id, product_id, rating, title, body, created_at FROM reviews WHERE product_id = $1 ORDER BY id`
	if err := s.db.SelectContext(ctx, &out, query, productID); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return out, nil
}

func (s *Store) CreateReview(ctx context.Context, r *models.Review) error {
	query := `INSERT INTO reviews (product_id, rating, title, body) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	if err := s.db.QueryRowxContext(ctx, query, r.ProductID, r.Rating, r.Title, r.Body).Scan(&r.ID, &r.CreatedAt); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	if err := s.db.GetContext(ctx, &c, `SELECT id, name, parent_id FROM categories WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	out := []models.Category{}
	if err := s.db.SelectContext(ctx, &out, `SELECT id, name, parent_id FROM categories ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

func (s *Store) ChildCategories(ctx context.Context, parentID int64) ([]models.Category, error) {
	out := []models.Category{}
	query := `SELECT id, name, parent_id FROM categories WHERE parent_id = $1 ORDER BY id`
	if err := s.db.SelectContext(ctx, &out, query, parentID); err != nil {
		return nil, fmt.Errorf("child categories: %w", err)
	}
	return out, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	query := `INSERT INTO categories (name, parent_id) VALUES ($1, $2) RETURNING id`
	if err := s.db.QueryRowxContext(ctx, query, c.Name, c.ParentID).Scan(&c.ID); err != nil {
		return translate(err)
	}
	return nil
}

func indexProducts(products []models.Product) map[string]models.Product {
	out := make(map[string]models.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}
