package types_test

import (
	"encoding/json"
	"testing"

	"github.com/erasekit/paywall/types"
)

func TestMoneyFormat(t *testing.T) {
	tests := []struct {
		in    types.Money
		major string
		str   string
	}{
		{types.USD(499), "4.99", "$4.99"},
		{types.USD(5), "0.05", "$0.05"},
		{types.USD(-1250), "-12.50", "$-12.50"},
		{types.Money{Amount: 1999, Currency: "eur"}, "19.99", "€19.99"},
		{types.Money{Amount: 600, Currency: "jpy"}, "600", "¥600"},
		{types.Money{Amount: 100, Currency: "chf"}, "1.00", "CHF 1.00"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.in.FormatMajor(); got != tt.major {
				t.Errorf("FormatMajor() = %q, want %q", got, tt.major)
			}
			if got := tt.in.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
		})
	}
}

func TestMoneyPer(t *testing.T) {
	if got := types.USD(999).Per(10); got != types.USD(99) {
		t.Errorf("Per(10) = %v, want $0.99", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("Per(0) should panic")
		}
	}()
	types.USD(1).Per(0)
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(types.USD(1999))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["display"] != "$19.99" || got["currency"] != "usd" || got["amount"] != float64(1999) {
		t.Errorf("unexpected json: %s", data)
	}
}

func TestEntityTouch(t *testing.T) {
	e := types.NewEntity()
	if !e.CreatedAt.Equal(e.UpdatedAt) {
		t.Fatal("new entity should have equal timestamps")
	}
	before := e.UpdatedAt
	e.Touch()
	if e.UpdatedAt.Before(before) {
		t.Error("Touch moved UpdatedAt backwards")
	}
}
