// Package money implements the cart and money model used to derive a
// chargeable amount. All arithmetic is done on integer minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MinimumCharge is the smallest amount a reader will be asked to charge.
const MinimumCharge Cents = 50

var (
	// ErrAmountTooSmall is returned when an amount is below MinimumCharge.
	ErrAmountTooSmall = amountTooSmallError{}

	// ErrInvalidItem is returned for line items with a negative price or a
	// quantity below one.
	ErrInvalidItem = errors.New("invalid line item")

	// ErrAmountOverflow is returned when a cart total does not fit in Cents.
	ErrAmountOverflow = errors.New("amount out of range")
)

type amountTooSmallError struct{}

func (amountTooSmallError) Error() string { return "amount below minimum charge" }
func (amountTooSmallError) Kind() string  { return "amount_too_small" }

// Cents is an amount in minor currency units.
type Cents int64

// Int64 returns c as a plain integer for APIs that do not know the type.
func (c Cents) Int64() int64 { return int64(c) }

// LineItem is a single cart row.
type LineItem struct {
	Name      string `json:"name"`
	UnitPrice Cents  `json:"unit_price_cents"`
	Quantity  int    `json:"quantity"`
}

// Amount returns unit price times quantity. It does not check for overflow;
// Validate does.
func (li LineItem) Amount() Cents {
	return li.UnitPrice * Cents(li.Quantity)
}

// Validate reports whether the item can take part in a total.
func (li LineItem) Validate() error {
	if li.Quantity < 1 {
		return fmt.Errorf("%q: quantity %d: %w", li.Name, li.Quantity, ErrInvalidItem)
	}
	if li.UnitPrice < 0 {
		return fmt.Errorf("%q: unit price %d: %w", li.Name, li.UnitPrice, ErrInvalidItem)
	}
	if _, ok := mul(li.UnitPrice, int64(li.Quantity)); !ok {
		return fmt.Errorf("%q: %d x %d: %w", li.Name, li.UnitPrice, li.Quantity, ErrAmountOverflow)
	}
	return nil
}

// Total returns the sum of unit price times quantity over items.
// An empty slice totals zero. Items must have passed Cart.Validate.
func Total(items []LineItem) Cents {
	var sum Cents
	for _, it := range items {
		sum += it.Amount()
	}
	return sum
}

// Tax returns subtotal * rateBasisPoints / 10000 rounded to the nearest
// cent, halves rounding away from zero.
func Tax(subtotal Cents, rateBasisPoints int) Cents {
	p := int64(subtotal) * int64(rateBasisPoints)
	if p < 0 {
		return -Cents((-p + 5000) / 10000)
	}
	return Cents((p + 5000) / 10000)
}

// GrandTotal returns subtotal plus tax plus an externally supplied tip.
func GrandTotal(subtotal Cents, rateBasisPoints int, tip Cents) Cents {
	return subtotal + Tax(subtotal, rateBasisPoints) + tip
}

// CheckMinimum returns ErrAmountTooSmall when c cannot be charged.
func CheckMinimum(c Cents) error {
	if c < MinimumCharge {
		return fmt.Errorf("%d < %d: %w", c, MinimumCharge, ErrAmountTooSmall)
	}
	return nil
}

// Cart is an ordered list of line items. Subtotal, tax and grand total are
// always derived from the items.
type Cart struct {
	Items   []LineItem `json:"items"`
	TaxRate int        `json:"tax_rate_bp"`
	Tip     Cents      `json:"tip_cents"`
}

// Validate checks every item, the tax rate and the tip, and that the grand
// total fits in Cents.
func (c Cart) Validate() error {
	var sum Cents
	for _, it := range c.Items {
		if err := it.Validate(); err != nil {
			return err
		}
		var ok bool
		if sum, ok = add(sum, it.Amount()); !ok {
			return fmt.Errorf("subtotal: %w", ErrAmountOverflow)
		}
	}
	if c.TaxRate < 0 {
		return fmt.Errorf("tax rate %d: %w", c.TaxRate, ErrInvalidItem)
	}
	if c.Tip < 0 {
		return fmt.Errorf("tip %d: %w", c.Tip, ErrInvalidItem)
	}

	// Tax rounds by adding 5000 before dividing.
	p, ok := mul(sum, int64(c.TaxRate))
	if !ok || p > math.MaxInt64-5000 {
		return fmt.Errorf("tax: %w", ErrAmountOverflow)
	}
	total, ok := add(sum, Tax(sum, c.TaxRate))
	if ok {
		total, ok = add(total, c.Tip)
	}
	if !ok {
		return fmt.Errorf("grand total: %w", ErrAmountOverflow)
	}
	return nil
}

// mul and add work on non-negative operands and report false on overflow.
func mul(a Cents, n int64) (Cents, bool) {
	if a == 0 || n == 0 {
		return 0, true
	}
	if int64(a) > math.MaxInt64/n {
		return 0, false
	}
	return a * Cents(n), true
}

func add(a, b Cents) (Cents, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func (c Cart) Subtotal() Cents   { return Total(c.Items) }
func (c Cart) Tax() Cents        { return Tax(c.Subtotal(), c.TaxRate) }
func (c Cart) GrandTotal() Cents { return GrandTotal(c.Subtotal(), c.TaxRate, c.Tip) }

var printer = message.NewPrinter(language.English)

// Format renders c for display, e.g. "USD 1,234.50". The currency scale
// comes from the ISO 4217 tables; unknown codes fall back to two decimals.
func Format(c Cents, code string) string {
	scale := 2
	label := strings.ToUpper(code)
	if unit, err := currency.ParseISO(label); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
		label = unit.String()
	}

	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	if scale == 0 {
		return label + " " + sign + printer.Sprintf("%d", v)
	}

	div := int64(1)
	for i := 0; i < scale; i++ {
		div *= 10
	}
	return label + " " + sign + printer.Sprintf("%d", v/div) + fmt.Sprintf(".%0*d", scale, v%div)
}
