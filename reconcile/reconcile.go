// Package reconcile forces independently-rounded order amounts to agree.
//
// The host commerce system rounds its order total once; payment providers
// recompute the same total from shipping, handling, tax and per-line
// prices, each rounded on its own. The two results can differ by a few
// minor units, and most provider APIs reject payloads whose parts do not
// sum to the stated total, or whose item total is zero or negative.
//
// Reconcile adjusts the provider-facing parts so that
//
//	order == shipping + handling + tax + Σ lines (+ shipping discount)
//
// holds exactly at currency precision, while keeping the visible item
// total strictly positive. Two interchangeable policies cover the two
// provider protocol families: injecting a synthetic adjustment line, or
// absorbing the residual into the largest-quantity line's unit price.
package reconcile

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/commercekit/paygate/money"
)

// AdjustmentCode is the item code carried by a synthetic adjustment line.
const AdjustmentCode = "ORDERADJUSTMENT"

// adjustmentName is the display name providers show for the synthetic line.
const adjustmentName = "Order adjustment"

// Policy selects how a residual is absorbed into the line items.
type Policy string

const (
	// PolicyAdjustmentLine appends a synthetic order line carrying the
	// residual. Used with providers whose request schema accepts an
	// arbitrary extra line (PayPal Express Checkout, DIBS).
	PolicyAdjustmentLine Policy = "adjustment-line"

	// PolicyLargestQuantity recomputes the unit price of the line with
	// the largest quantity, rounding up so the authorized amount is
	// never undershot. Used with fixed line-item schemas that have no
	// room for synthetic lines (DataCash, Authorize.Net CIM).
	PolicyLargestQuantity Policy = "largest-quantity"
)

var (
	// ErrQuantity is returned when a line item quantity is below one.
	ErrQuantity = errors.New("reconcile: line item quantity must be >= 1")

	// ErrCurrencyMismatch is returned when inputs mix currencies.
	ErrCurrencyMismatch = errors.New("reconcile: currency mismatch")

	// ErrUnrepresentableResidual is returned when the residual is not a
	// whole number of minor currency units. Pre-rounded inputs can never
	// trigger it; it guards against callers passing raw amounts.
	ErrUnrepresentableResidual = errors.New("reconcile: residual is not representable at currency precision")
)

// LineItem is one order line as read from the host order. Quantity may
// be fractional upstream; it is truncated to an integer for the provider
// and the truncated remainder is not separately reconciled.
type LineItem struct {
	Code          string
	Name          string
	Quantity      decimal.Decimal
	ExtendedPrice money.Money // discounted price for the whole line
}

// Totals are the independently-rounded order subtotals. Order is the
// authoritative total as charged; the remaining values may not sum to it.
type Totals struct {
	Order    money.Money
	Shipping money.Money
	Handling money.Money
	Tax      money.Money
}

// Line is a provider-facing order line with an integer quantity and a
// unit price rounded to currency precision.
type Line struct {
	Code      string
	Name      string
	Quantity  int64
	UnitPrice money.Money
}

// Extended returns quantity times unit price.
func (l Line) Extended() decimal.Decimal {
	return l.UnitPrice.Amount.Mul(decimal.NewFromInt(l.Quantity))
}

// IsAdjustment reports whether the line is a synthetic adjustment line.
func (l Line) IsAdjustment() bool { return l.Code == AdjustmentCode }

// Result holds the reconciled amounts ready for request serialization.
type Result struct {
	Shipping money.Money
	Handling money.Money
	Tax      money.Money

	// ShippingDiscount is zero or negative. It is only populated by
	// PolicyAdjustmentLine when the residual cannot be hidden in the
	// item lines without driving the item total to zero or below.
	ShippingDiscount money.Money

	Lines     []Line
	ItemTotal money.Money
}

// Reconcile adjusts totals and line items under the given policy so the
// provider-visible sum equals totals.Order exactly. It is a pure
// function: inputs are never mutated and repeated application of the
// same policy to its own output is a no-op.
func Reconcile(totals Totals, items []LineItem, policy Policy) (*Result, error) {
	if err := validate(totals, items); err != nil {
		return nil, err
	}

	switch policy {
	case PolicyAdjustmentLine:
		return adjustmentLine(totals, items)
	case PolicyLargestQuantity:
		return largestQuantity(totals, items)
	default:
		return nil, fmt.Errorf("reconcile: unknown policy %q", policy)
	}
}

// adjustmentLine implements the synthetic-line policy. Unit prices are
// rounded per unit before multiplying by quantity; summing first and
// rounding once gives different results and breaks provider fixtures.
func adjustmentLine(totals Totals, items []LineItem) (*Result, error) {
	cur := totals.Order.Currency
	orderTotal := money.Round(totals.Order.Amount, cur)
	shipping := money.Round(totals.Shipping.Amount, cur)
	handling := money.Round(totals.Handling.Amount, cur)
	tax := money.Round(totals.Tax.Amount, cur)

	lineItemTotal := decimal.Zero
	lines := make([]Line, 0, len(items)+1)
	for _, item := range items {
		unit := money.Round(item.ExtendedPrice.Amount.Div(item.Quantity), cur)
		lineItemTotal = lineItemTotal.Add(unit.Mul(item.Quantity))
		lines = append(lines, Line{
			Code:      item.Code,
			Name:      item.Name,
			Quantity:  item.Quantity.IntPart(),
			UnitPrice: money.New(unit, cur),
		})
	}

	residual := orderTotal.Sub(shipping).Sub(handling).Sub(tax).Sub(lineItemTotal)
	if err := checkResidual(residual, cur); err != nil {
		return nil, err
	}

	shippingAdjustment := decimal.Zero
	// An adjustment line is needed when the sums disagree, and also when
	// they agree but the item total is zero (an order fully covered by a
	// gift card or promotion): the provider still requires a positive
	// item total even though the buyer only pays shipping and tax.
	if !residual.IsZero() || lineItemTotal.IsZero() {
		adjustment := residual
		predicted := lineItemTotal.Add(adjustment)
		if !predicted.IsPositive() {
			// The provider refuses a zero or negative item total. Keep
			// exactly one minor unit on the items and move the remaining
			// shortfall onto shipping.
			minUnit := money.MinorUnit(cur)
			adjustment = lineItemTotal.Neg().Add(minUnit)
			shippingAdjustment = predicted.Sub(minUnit)
		}

		lineItemTotal = lineItemTotal.Add(adjustment)
		lines = append(lines, Line{
			Code:      AdjustmentCode,
			Name:      adjustmentName,
			Quantity:  1,
			UnitPrice: money.New(adjustment, cur),
		})
	}

	res := &Result{
		Handling:         money.New(handling, cur),
		Tax:              money.New(tax, cur),
		ShippingDiscount: money.Zero(cur),
		Lines:            lines,
		ItemTotal:        money.New(lineItemTotal, cur),
	}
	if shippingAdjustment.IsPositive() {
		shipping = shipping.Add(shippingAdjustment)
	} else {
		// Reported as a negative shipping-discount field, for providers
		// that support one.
		res.ShippingDiscount = money.New(shippingAdjustment, cur)
	}
	res.Shipping = money.New(shipping, cur)
	return res, nil
}

// largestQuantity implements the absorption policy. Lines are ordered by
// ascending quantity so the largest-quantity line comes last; absorbing
// the residual there keeps the per-unit price change smallest.
func largestQuantity(totals Totals, items []LineItem) (*Result, error) {
	cur := totals.Order.Currency
	orderTotal := money.Round(totals.Order.Amount, cur)
	shipping := money.Round(totals.Shipping.Amount, cur)
	handling := money.Round(totals.Handling.Amount, cur)
	tax := money.Round(totals.Tax.Amount, cur)

	// Target item total implied by the authoritative order total.
	target := orderTotal.Sub(shipping).Sub(handling).Sub(tax)

	ordered := make([]LineItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Quantity.LessThan(ordered[j].Quantity)
	})

	lineItemTotal := decimal.Zero
	withoutLast := decimal.Zero
	lines := make([]Line, 0, len(ordered))
	for i, item := range ordered {
		unit := money.Round(item.ExtendedPrice.Amount.Div(item.Quantity), cur)
		if i < len(ordered)-1 {
			withoutLast = withoutLast.Add(unit.Mul(item.Quantity))
		}
		lineItemTotal = lineItemTotal.Add(unit.Mul(item.Quantity))
		lines = append(lines, Line{
			Code:      item.Code,
			Name:      item.Name,
			Quantity:  item.Quantity.IntPart(),
			UnitPrice: money.New(unit, cur),
		})
	}

	residual := target.Sub(lineItemTotal)
	if err := checkResidual(residual, cur); err != nil {
		return nil, err
	}

	if !residual.IsZero() && len(lines) > 0 {
		last := len(lines) - 1
		qty := ordered[last].Quantity
		// Round up, never down: the amount sent for authorization must
		// cover the amount requested for settlement.
		unit := target.Sub(withoutLast).Div(qty).RoundCeil(money.DecimalPlaces(cur))
		minUnit := money.MinorUnit(cur)
		if unit.LessThan(minUnit) {
			// Providers reject non-positive unit prices; one minor unit
			// is the floor even when the order is fully discounted.
			unit = minUnit
		}
		lines[last].UnitPrice = money.New(unit, cur)
		lineItemTotal = withoutLast.Add(unit.Mul(qty))
	}

	return &Result{
		Shipping:         money.New(shipping, cur),
		Handling:         money.New(handling, cur),
		Tax:              money.New(tax, cur),
		ShippingDiscount: money.Zero(cur),
		Lines:            lines,
		ItemTotal:        money.New(lineItemTotal, cur),
	}, nil
}

func validate(totals Totals, items []LineItem) error {
	cur := totals.Order.Currency
	for _, m := range []money.Money{totals.Shipping, totals.Handling, totals.Tax} {
		if m.Currency != cur {
			return fmt.Errorf("%w: totals use %s and %s", ErrCurrencyMismatch, cur, m.Currency)
		}
	}
	one := decimal.NewFromInt(1)
	for _, item := range items {
		if item.ExtendedPrice.Currency != cur {
			return fmt.Errorf("%w: line %q uses %s, order uses %s",
				ErrCurrencyMismatch, item.Code, item.ExtendedPrice.Currency, cur)
		}
		if item.Quantity.LessThan(one) {
			return fmt.Errorf("%w: line %q has quantity %s", ErrQuantity, item.Code, item.Quantity)
		}
	}
	return nil
}

func checkResidual(residual decimal.Decimal, currency string) error {
	if !residual.Mod(money.MinorUnit(currency)).IsZero() {
		return fmt.Errorf("%w: residual %s %s", ErrUnrepresentableResidual, residual, currency)
	}
	return nil
}
