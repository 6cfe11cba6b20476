// Package memory is a process-local store. A single mutex serialises
// transactions and writes are staged until commit, so readers never observe
// a partial checkout.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/agrimarket/internal/store"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/shopspring/decimal"
)

type Option func(*Store)

// WithClock overrides the time source used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	products   map[string]models.Product
	productSeq map[string]int64
	categories map[int64]models.Category
	reviews    []models.Review
	orders     map[string]models.Order
	orderSeq   map[string]int64
	items      map[string][]models.OrderItem

	seq            int64
	nextCategoryID int64
	nextReviewID   int64
	nextItemID     int64
}

var _ store.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		now:        time.Now,
		products:   make(map[string]models.Product),
		productSeq: make(map[string]int64),
		categories: make(map[int64]models.Category),
		orders:     make(map[string]models.Order),
		orderSeq:   make(map[string]int64),
		items:      make(map[string][]models.OrderItem),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) ListProducts(ctx context.Context, q store.ProductQuery) ([]models.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(q.Search)
	var matched []models.Product
	for _, p := range s.products {
		if needle == "" || strings.Contains(strings.ToLower(p.Title), needle) {
			matched = append(matched, p)
		}
	}
	s.sortNewestFirst(matched)

	total := len(matched)
	if q.Offset < 0 || q.Offset >= total {
		return []models.Product{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return copyProducts(matched[q.Offset:end]), total, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p = copyProduct(p)
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = copyProduct(p)
		}
	}
	return out, nil
}

func (s *Store) Autosuggest(ctx context.Context, prefix string, limit int) ([]models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix = strings.ToLower(prefix)
	out := []models.Suggestion{}
	for _, p := range s.products {
		if strings.HasPrefix(strings.ToLower(p.Title), prefix) {
			out = append(out, models.Suggestion{ID: p.ID, Title: p.Title})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RelatedProducts(ctx context.Context, p models.Product, limit int) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p.CategoryID == nil {
		return []models.Product{}, nil
	}
	var out []models.Product
	for _, other := range s.products {
		if other.ID == p.ID || other.CategoryID == nil || *other.CategoryID != *p.CategoryID {
			continue
		}
		out = append(out, other)
	}
	s.sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return copyProducts(out), nil
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, exists := s.products[p.ID]; exists {
		return store.ErrDuplicate
	}
	if p.CategoryID != nil {
		if _, ok := s.categories[*p.CategoryID]; !ok {
			return store.ErrNotFound
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if p.Variants == nil {
		p.Variants = models.Variants{}
	}
	if p.Images == nil {
		p.Images = models.Images{}
	}
	s.seq++
	s.products[p.ID] = copyProduct(*p)
	s.productSeq[p.ID] = s.seq
	return nil
}

// UpdatePrice changes the live price. Order items keep their snapshot.
func (s *Store) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Price = price
	s.products[id] = p
	return nil
}

// DeleteProduct removes a product and its reviews. Order items that
// reference it are left alone.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	delete(s.productSeq, id)
	kept := s.reviews[:0]
	for _, r := range s.reviews {
		if r.ProductID != id {
			kept = append(kept, r)
		}
	}
	s.reviews = kept
	return nil
}

func (s *Store) ListReviews(ctx context.Context, productID string) ([]models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Review{}
	for _, r := range s.reviews {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) CreateReview(ctx context.Context, r *models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[r.ProductID]; !ok {
		return store.ErrNotFound
	}
	s.nextReviewID++
	r.ID = s.nextReviewID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.reviews = append(s.reviews, *r)
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ChildCategories(ctx context.Context, parentID int64) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Category{}
	for _, c := range s.categories {
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ParentID != nil {
		if _, ok := s.categories[*c.ParentID]; !ok {
			return store.ErrNotFound
		}
	}
	s.nextCategoryID++
	c.ID = s.nextCategoryID
	s.categories[c.ID] = *c
	return nil
}

func (s *Store) ListOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Order{}
	for id, o := range s.orders {
		if buyerID != "" && o.BuyerID != buyerID {
			continue
		}
		o.Items = append([]models.OrderItem(nil), s.items[id]...)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.orderSeq[out[i].ID] > s.orderSeq[out[j].ID]
	})
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	o.Items = append([]models.OrderItem(nil), s.items[id]...)
	return &o, nil
}

// InTx holds the write lock for the whole of fn. Staged writes are applied
// only when fn returns nil; on error or panic they are dropped.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		s:      s,
		stock:  make(map[string]int),
		status: make(map[string]models.OrderStatus),
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) sortNewestFirst(ps []models.Product) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return s.productSeq[ps[i].ID] > s.productSeq[ps[j].ID]
	})
}

type tx struct {
	s      *Store
	stock  map[string]int
	orders []models.Order
	items  []models.OrderItem
	status map[string]models.OrderStatus
}

func (t *tx) LockProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		p, ok := t.s.products[id]
		if !ok {
			continue
		}
		if staged, ok := t.stock[id]; ok {
			p.Stock = staged
		}
		out[id] = copyProduct(p)
	}
	return out, nil
}

func (t *tx) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return store.ErrInvalidQuantity
	}
	p, ok := t.s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	current := p.Stock
	if staged, ok := t.stock[productID]; ok {
		current = staged
	}
	if qty > current {
		return store.ErrInsufficientStock
	}
	t.stock[productID] = current - qty
	return nil
}

func (t *tx) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if _, exists := t.s.orders[o.ID]; exists {
		return store.ErrDuplicate
	}
	o.CreatedAt = t.s.now().UTC()
	staged := *o
	staged.Items = nil
	if o.Shipping != nil {
		sh := *o.Shipping
		staged.Shipping = &sh
	}
	t.orders = append(t.orders, staged)
	return nil
}

func (t *tx) AddItem(ctx context.Context, item *models.OrderItem) error {
	if !t.orderExists(item.OrderID) {
		return store.ErrNotFound
	}
	item.ID = t.s.nextItemID + int64(len(t.items)) + 1
	t.items = append(t.items, *item)
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		for _, staged := range t.orders {
			if staged.ID == id {
				o, ok = staged, true
				break
			}
		}
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	if st, ok := t.status[id]; ok {
		o.Status = st
	}
	return &o, nil
}

func (t *tx) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	if !t.orderExists(orderID) {
		return store.ErrNotFound
	}
	t.status[orderID] = status
	return nil
}

func (t *tx) orderExists(id string) bool {
	if _, ok := t.s.orders[id]; ok {
		return true
	}
	for _, o := range t.orders {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (t *tx) commit() {
	s := t.s
	for id, qty := range t.stock {
		p := s.products[id]
		p.Stock = qty
		s.products[id] = p
	}
	for _, o := range t.orders {
		s.seq++
		s.orders[o.ID] = o
		s.orderSeq[o.ID] = s.seq
	}
	for _, item := range t.items {
		s.items[item.OrderID] = append(s.items[item.OrderID], item)
	}
	s.nextItemID += int64(len(t.items))
	for id, st := range t.status {
		o := s.orders[id]
		o.Status = st
		s.orders[id] = o
	}
}

func copyProduct(p models.Product) models.Product {
	if p.Variants != nil {
		v := make(models.Variants, len(p.Variants))
		for k, opts := range p.Variants {
			v[k] = append([]string(nil), opts...)
		}
		p.Variants = v
	}
	if p.Images != nil {
		p.Images = append(models.Images(nil), p.Images...)
	}
	return p
}

func copyProducts(ps []models.Product) []models.Product {
	out := make([]models.Product, len(ps))
	for i, p := range ps {
		out[i] = copyProduct(p)
	}
	return out
}
