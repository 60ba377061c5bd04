package model

import (
	"encoding/json"
	"testing"
)

func TestCheckoutRequestAmountOrCart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantAmt   bool
		wantItems int
	}{
		{name: "amount", body: `{"amount_cents":1250}`, wantAmt: true},
		{name: "zero_amount_is_present", body: `{"amount_cents":0}`, wantAmt: true},
		{name: "cart", body: `{"items":[{"name":"tea","unit_price_cents":300,"quantity":2}],"tax_rate_bp":825}`, wantItems: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var req CheckoutRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if (req.AmountCents != nil) != tt.wantAmt {
				t.Fatalf("expected amount present=%v, got %v", tt.wantAmt, req.AmountCents)
			}
			if len(req.Items) != tt.wantItems {
				t.Fatalf("expected %d items, got %d", tt.wantItems, len(req.Items))
			}
		})
	}
}

func TestCheckoutResponseOmitEmptyFields(t *testing.T) {
	t.Parallel()

	resp := CheckoutResponse{Status: "error", Outcome: "not_connected"}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}

	for _, key := range []string{"attempt_id", "intent_id", "steps", "error", "amount"} {
		if _, ok := raw[key]; ok {
			t.Fatalf("expected %s to be omitted", key)
		}
	}
	if raw["amount_cents"] != float64(0) {
		t.Fatalf("expected amount_cents=0, got %v", raw["amount_cents"])
	}
}
