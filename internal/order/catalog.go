package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownProduct = errors.New("unknown product")

type Product struct {
	ID     string
	Name   string
	Price  float64
	Sizes  []string
	Colors []string
}

// Catalog is consulted only while an order is being created.
type Catalog interface {
	Lookup(ctx context.Context, productID string) (Product, error)
}

// FixtureCatalog is a fixed in-memory catalog used by seeding and local runs.
type FixtureCatalog struct {
	products map[string]Product
}

func NewFixtureCatalog(products ...Product) *FixtureCatalog {
	if len(products) == 0 {
		products = fixtureProducts
	}
	c := &FixtureCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *FixtureCatalog) Lookup(_ context.Context, productID string) (Product, error) {
	p, ok := c.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return p, nil
}

// Products returns the catalog sorted by id.
func (c *FixtureCatalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var fixtureProducts = []Product{
	{ID: "prod-001", Name: "Classic Cotton T-Shirt", Price: 19.99, Sizes: []string{"S", "M", "L", "XL"}, Colors: []string{"white", "black", "navy"}},
	{ID: "prod-002", Name: "Slim Fit Denim Jeans", Price: 49.99, Sizes: []string{"30", "32", "34", "36"}, Colors: []string{"indigo", "black"}},
	{ID: "prod-003", Name: "Hooded Sweatshirt", Price: 39.99, Sizes: []string{"S", "M", "L", "XL"}, Colors: []string{"grey", "black", "burgundy"}},
	{ID: "prod-004", Name: "Leather Belt", Price: 24.99, Sizes: []string{"M", "L"}, Colors: []string{"brown", "black"}},
	{ID: "prod-005", Name: "Running Sneakers", Price: 89.99, Sizes: []string{"40", "41", "42", "43", "44"}, Colors: []string{"white", "blue"}},
	{ID: "prod-006", Name: "Wool Beanie", Price: 14.99, Colors: []string{"black", "grey", "red"}},
}
