package catalog_test

import (
	"testing"

	"github.com/erasekit/paywall/catalog"
	"github.com/erasekit/paywall/types"
)

func TestDefault(t *testing.T) {
	c := catalog.Default()

	tests := []struct {
		id      string
		pro     bool
		credits int64
	}{
		{"credits_10", false, 10},
		{"credits_50", false, 50},
		{"credits_100", false, 100},
		{"pro_unlock", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p, ok := c.Lookup(tt.id)
			if !ok {
				t.Fatalf("%s missing from default catalog", tt.id)
			}
			if p.Effect.GrantsPro() != tt.pro {
				t.Errorf("GrantsPro = %v, want %v", p.Effect.GrantsPro(), tt.pro)
			}
			if p.Effect.CreditDelta() != tt.credits {
				t.Errorf("CreditDelta = %d, want %d", p.Effect.CreditDelta(), tt.credits)
			}
		})
	}

	if c.Contains("credits_9000") {
		t.Error("unexpected product in catalog")
	}
	if got := len(c.Products()); got != 4 {
		t.Errorf("Products() = %d entries, want 4", got)
	}
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name     string
		products []catalog.Product
	}{
		{"empty id", []catalog.Product{{Effect: catalog.GrantPro()}}},
		{"duplicate", []catalog.Product{
			{ID: "a", Effect: catalog.AddCredits(1)},
			{ID: "a", Effect: catalog.AddCredits(2)},
		}},
		{"zero credits", []catalog.Product{{ID: "a", Effect: catalog.AddCredits(0)}}},
		{"unknown kind", []catalog.Product{{ID: "a", Effect: catalog.Effect{Kind: "refund"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := catalog.New(tt.products...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUnitPrice(t *testing.T) {
	p := catalog.Product{ID: "c", Effect: catalog.AddCredits(10), Price: types.USD(199)}
	if got := p.UnitPrice(); got != types.USD(19) {
		t.Errorf("UnitPrice = %v, want $0.19", got)
	}
	pro := catalog.Product{ID: "p", Effect: catalog.GrantPro(), Price: types.USD(499)}
	if got := pro.UnitPrice(); got != types.USD(499) {
		t.Errorf("UnitPrice = %v, want $4.99", got)
	}
}

func TestProductsSorted(t *testing.T) {
	ps := catalog.Default().Products()
	for i := 1; i < len(ps); i++ {
		if ps[i-1].ID > ps[i].ID {
			t.Fatalf("products not sorted: %q before %q", ps[i-1].ID, ps[i].ID)
		}
	}
}
