// Package store defines the persistence contracts of the catalog and the
// order ledger. Implementations live in the postgres and memory
// subpackages.
package store

import (
	"context"
	"errors"

	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrInsufficientStock = errors.New("store: insufficient stock")
	ErrDuplicate         = errors.New("store: duplicate key")
	ErrInvalidQuantity   = errors.New("store: quantity must be positive")
)

// ProductQuery selects a page of products. Search is a case-insensitive
// substring of the title.
type ProductQuery struct {
	Search string
	Limit  int
	Offset int
}

// Catalog is the read side of products and categories plus the write paths
// used by sellers and seeding. Stock is only ever decremented through Tx.
type Catalog interface {
	ListProducts(ctx context.Context, q ProductQuery) ([]models.Product, int, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error)
	Autosuggest(ctx context.Context, prefix string, limit int) ([]models.Suggestion, error)
	RelatedProducts(ctx context.Context, p models.Product, limit int) ([]models.Product, error)
	CountProducts(ctx context.Context) (int, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error
	DeleteProduct(ctx context.Context, id string) error

	ListReviews(ctx context.Context, productID string) ([]models.Review, error)
	CreateReview(ctx context.Context, r *models.Review) error

	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	ChildCategories(ctx context.Context, parentID int64) ([]models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
}

// Ledger is the read side of orders. Orders come back newest first with
// their items attached.
type Ledger interface {
	ListOrders(ctx context.Context, buyerID string) ([]models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

// Tx is the set of writes that must happen inside one transaction. Rows
// returned by the Lock methods stay locked until the transaction ends.
type Tx interface {
	LockProducts(ctx context.Context, ids []string) (map[string]models.Product, error)
	DecrementStock(ctx context.Context, productID string, qty int) error
	CreateOrder(ctx context.Context, o *models.Order) error
	AddItem(ctx context.Context, item *models.OrderItem) error
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) error
}

type Store interface {
	Catalog
	Ledger

	// InTx runs fn in a transaction. Any error returned by fn, or a panic,
	// rolls back every write made through the Tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
