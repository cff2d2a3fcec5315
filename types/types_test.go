package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideInvert(t *testing.T) {
	if Buy.Invert() != Sell || Sell.Invert() != Buy {
		t.Fatal("sides must invert")
	}
	if !Buy.Valid() || !Sell.Valid() || Side("settle").Valid() {
		t.Fatal("side validity")
	}
}

func TestPositionActiveFlag(t *testing.T) {
	pos := Position{}
	if pos.Active() {
		t.Fatal("zero position must be armed")
	}
	pos.TrailingPrice = Ptr(decimal.NewFromInt(61400))
	if !pos.Active() {
		t.Fatal("trailing price presence marks activity")
	}
}

// The armed/active distinction survives JSON: absent optional fields must
// stay absent, not zero.
func TestPositionJSONOmitsAbsentFields(t *testing.T) {
	armed := Position{
		Mode:            "multipliers",
		OpeningOrder:    []string{"O1"},
		Side:            Sell,
		EntryPrice:      decimal.NewFromInt(60000),
		ActivationATR:   decimal.NewFromInt(300),
		ActivationPrice: decimal.NewFromInt(61350),
	}
	raw, err := json.Marshal(armed)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"stop_price", "trailing_price", "stop_atr", "pnl", "closing_time"} {
		if jsonHasKey(t, raw, key) {
			t.Fatalf("armed position serialized %q", key)
		}
	}

	var back Position
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Active() || back.StopPrice != nil {
		t.Fatal("armed position gained optional fields through JSON")
	}
	if !back.EntryPrice.Equal(armed.EntryPrice) {
		t.Fatalf("entry price drifted: %s", back.EntryPrice)
	}
}

func jsonHasKey(t *testing.T, raw []byte, key string) bool {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	_, ok := m[key]
	return ok
}
