package id_test

import (
	"strings"
	"testing"

	"github.com/erasekit/paywall/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"TransactionID", id.NewTransactionID, "txn_"},
		{"DecisionID", id.NewDecisionID, "authz_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"TransactionID", id.NewTransactionID, id.ParseTransactionID},
		{"DecisionID", id.NewDecisionID, id.ParseDecisionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseTransactionID(id.NewDecisionID().String()); err == nil {
		t.Error("ParseTransactionID accepted an authz_ id")
	}
	if _, err := id.ParseDecisionID(id.NewTransactionID().String()); err == nil {
		t.Error("ParseDecisionID accepted a txn_ id")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "txn", "txn_!!!", "1000000"} {
		if _, err := id.Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Errorf("nil id rendered as %q/%q", i.String(), i.Prefix())
	}
}

func TestTextAndSQLRoundTrip(t *testing.T) {
	original := id.NewTransactionID()

	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var fromText id.ID
	if err := fromText.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if fromText.String() != original.String() {
		t.Errorf("text mismatch: %q != %q", fromText, original)
	}

	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var fromSQL id.ID
	if err := fromSQL.Scan(val); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if fromSQL.String() != original.String() {
		t.Errorf("sql mismatch: %q != %q", fromSQL, original)
	}

	var null id.ID
	if v, _ := null.Value(); v != nil {
		t.Errorf("nil id should store NULL, got %v", v)
	}
	if err := fromSQL.Scan(nil); err != nil || !fromSQL.IsNil() {
		t.Errorf("Scan(nil) = %v, nil=%v", err, fromSQL.IsNil())
	}
	if err := fromSQL.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestUniqueness(t *testing.T) {
	a, b := id.NewDecisionID(), id.NewDecisionID()
	if a.String() == b.String() {
		t.Errorf("two consecutive ids collided: %q", a)
	}
}
