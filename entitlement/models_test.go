package entitlement_test

import (
	"testing"

	"github.com/erasekit/paywall/entitlement"
)

func TestFreeRemaining(t *testing.T) {
	tests := []struct {
		name  string
		ent   entitlement.Entitlement
		limit int64
		want  int64
	}{
		{"fresh", entitlement.Entitlement{}, 1, 1},
		{"exhausted", entitlement.Entitlement{FreeUsedCount: 1}, 1, 0},
		{"over limit after lowering", entitlement.Entitlement{FreeUsedCount: 5}, 3, 0},
		{"pro is unlimited", entitlement.Entitlement{IsPro: true, FreeUsedCount: 7}, 1, entitlement.UnlimitedRemaining},
		{"credits do not change free", entitlement.Entitlement{Credits: 50}, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ent.FreeRemaining(tt.limit); got != tt.want {
				t.Errorf("FreeRemaining(%d) = %d, want %d", tt.limit, got, tt.want)
			}
		})
	}
}

func TestUpdateApply(t *testing.T) {
	e := entitlement.New("install-1")
	before := e.UpdatedAt

	entitlement.Update{IsPro: entitlement.Bool(true), FreeUsedDelta: 1, CreditsDelta: 10}.Apply(e)

	if !e.IsPro || e.FreeUsedCount != 1 || e.Credits != 10 {
		t.Errorf("unexpected entitlement after update: %+v", e)
	}
	if e.UpdatedAt.Before(before) {
		t.Error("UpdatedAt moved backwards")
	}

	entitlement.Update{CreditsDelta: 5}.Apply(e)
	if !e.IsPro || e.Credits != 15 {
		t.Errorf("nil IsPro must leave the flag alone: %+v", e)
	}
}

func TestUpdateValid(t *testing.T) {
	if !(entitlement.Update{FreeUsedDelta: 1}).Valid() {
		t.Error("positive delta should be valid")
	}
	if (entitlement.Update{CreditsDelta: -1}).Valid() {
		t.Error("negative credit delta should be rejected")
	}
	if (entitlement.Update{FreeUsedDelta: -1}).Valid() {
		t.Error("negative free delta should be rejected")
	}
}

func TestStatus(t *testing.T) {
	e := &entitlement.Entitlement{InstallID: "x", FreeUsedCount: 1, Credits: 3}
	s := e.Status(2)
	if s.InstallID != "x" || s.FreeRemaining != 1 || s.FreeUsed != 1 || s.FreeLimit != 2 || s.Credits != 3 || s.IsPro {
		t.Errorf("unexpected status: %+v", s)
	}
}
