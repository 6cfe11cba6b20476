package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money goes over the wire as a JSON number, e.g. 2200.00 -> 2200.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock"`
	CategoryID  *int64          `json:"category_id" db:"category_id"`
	Variants    Variants        `json:"variants" db:"variants"`
	Images      Images          `json:"images" db:"images"`
	SellerID    *string         `json:"seller_id,omitempty" db:"seller_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Category nodes form a tree through ParentID. Children are looked up by
// query, never held as an object graph.
type Category struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	ParentID *int64 `json:"parent_id" db:"parent_id"`
}

type Review struct {
	ID        int64     `json:"-" db:"id"`
	ProductID string    `json:"-" db:"product_id"`
	Rating    int       `json:"rating" db:"rating"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// Suggestion is the trimmed product shape returned by autosuggest.
type Suggestion struct {
	ID    string `json:"id" db:"id"`
	Title string `json:"title" db:"title"`
}

// Variants maps an option name to its choices, e.g. {"pack": ["50kg", "25kg"]}.
type Variants map[string][]string

func (v Variants) Value() (driver.Value, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (v *Variants) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("variants: %w", err)
	}
	if len(data) == 0 {
		*v = Variants{}
		return nil
	}
	out := Variants{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("variants: %w", err)
	}
	*v = out
	return nil
}

// Images is the ordered list of image references of a product.
type Images []string

func (i Images) Value() (driver.Value, error) {
	if i == nil {
		return "[]", nil
	}
	data, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (i *Images) Scan(src interface{}) error {
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if len(data) == 0 {
		*i = Images{}
		return nil
	}
	out := Images{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	*i = out
	return nil
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch s := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return s, nil
	case string:
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("unsupported source type %T", src)
	}
}
