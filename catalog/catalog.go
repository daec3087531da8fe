// Package catalog defines the purchasable products and the entitlement effect
// each one applies once its transaction is verified.
package catalog

import (
	"fmt"
	"sort"

	"github.com/erasekit/paywall/types"
)

// EffectKind names what a product does to an entitlement.
type EffectKind string

const (
	KindGrantPro   EffectKind = "grant_pro"
	KindAddCredits EffectKind = "add_credits"
)

// Effect is the entitlement change a product applies.
type Effect struct {
	Kind    EffectKind `json:"kind"`
	Credits int64      `json:"credits,omitempty"`
}

// GrantPro is the legacy one-time unlock.
func GrantPro() Effect { return Effect{Kind: KindGrantPro} }

// AddCredits adds n consumable credits.
func AddCredits(n int64) Effect { return Effect{Kind: KindAddCredits, Credits: n} }

// GrantsPro reports whether the effect sets the pro flag.
func (e Effect) GrantsPro() bool { return e.Kind == KindGrantPro }

// CreditDelta is the number of credits the effect adds.
func (e Effect) CreditDelta() int64 {
	if e.Kind == KindAddCredits {
		return e.Credits
	}
	return 0
}

// Validate rejects effects that would not change anything.
func (e Effect) Validate() error {
	switch e.Kind {
	case KindGrantPro:
		return nil
	case KindAddCredits:
		if e.Credits <= 0 {
			return fmt.Errorf("catalog: add_credits needs a positive amount, got %d", e.Credits)
		}
		return nil
	default:
		return fmt.Errorf("catalog: unknown effect %q", e.Kind)
	}
}

// Product is one App Store product id and its effect.
type Product struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Effect Effect      `json:"effect"`
	Price  types.Money `json:"price"`
}

// UnitPrice is the price of one credit, or the full price for non-credit products.
func (p Product) UnitPrice() types.Money {
	if n := p.Effect.CreditDelta(); n > 0 {
		return p.Price.Per(n)
	}
	return p.Price
}

// Catalog is an immutable set of products.
type Catalog struct {
	products map[string]Product
}

// New builds a catalog. Duplicate ids and invalid effects are rejected.
func New(products ...Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: product with empty id")
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %q", p.ID)
		}
		if err := p.Effect.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: product %q: %w", p.ID, err)
		}
		c.products[p.ID] = p
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(products ...Product) *Catalog {
	c, err := New(products...)
	if err != nil {
		panic(err)
	}
	return c
}

// Default is the catalog the mobile client ships with.
func Default() *Catalog {
	return MustNew(
		Product{ID: "credits_10", Name: "10 Credits", Effect: AddCredits(10), Price: types.USD(199)},
		Product{ID: "credits_50", Name: "50 Credits", Effect: AddCredits(50), Price: types.USD(699)},
		Product{ID: "credits_100", Name: "100 Credits", Effect: AddCredits(100), Price: types.USD(1199)},
		Product{ID: "pro_unlock", Name: "Pro Unlock", Effect: GrantPro(), Price: types.USD(499)},
	)
}

// Lookup returns the product with the given id.
func (c *Catalog) Lookup(productID string) (Product, bool) {
	p, ok := c.products[productID]
	return p, ok
}

// Contains reports whether productID is sold.
func (c *Catalog) Contains(productID string) bool {
	_, ok := c.products[productID]
	return ok
}

// Products lists the catalog sorted by id.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
