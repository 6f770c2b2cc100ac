// Package money provides currency-aware decimal amounts for payment
// processing. Rounding is currency specific: most currencies carry two
// decimal places, zero-decimal currencies (JPY, KRW, ...) round to whole
// units. All arithmetic uses arbitrary-precision decimals so provider
// amounts never pick up float noise.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are currencies whose smallest unit is the whole
// unit. Amounts in these currencies are always integers on the wire.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
}

// Money is an amount in a specific currency. The zero value is an
// invalid amount with no currency; construct values with New.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// New creates a Money value. The currency code is upper-cased but not
// otherwise validated; providers validate supported currencies themselves.
func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

// FromFloat creates a Money value from a float64 amount. Intended for
// API boundaries where amounts arrive as JSON numbers.
func FromFloat(amount float64, currency string) Money {
	return New(decimal.NewFromFloat(amount), currency)
}

// FromString creates a Money value from a decimal string.
func FromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid amount %q: %w", amount, err)
	}
	return New(d, currency), nil
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return New(decimal.Zero, currency)
}

// DecimalPlaces returns the number of decimal places for a currency code.
func DecimalPlaces(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// MinorUnit returns the smallest representable increment of a currency:
// 0.01 for two-decimal currencies, 1 for zero-decimal currencies.
func MinorUnit(currency string) decimal.Decimal {
	return decimal.New(1, -DecimalPlaces(currency))
}

// Round rounds a raw decimal to the currency's precision, half away
// from zero. This matches the rounding the host commerce system applies
// before amounts reach the gateway.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(DecimalPlaces(currency))
}

// Round returns the amount rounded to the currency's precision.
func (m Money) Round() Money {
	return Money{Amount: Round(m.Amount, m.Currency), Currency: m.Currency}
}

// MinorUnit returns the smallest increment of the money's currency.
func (m Money) MinorUnit() decimal.Decimal {
	return MinorUnit(m.Currency)
}

// ToMinorUnits converts the amount to an integer count of minor units
// (öre, cents, yen). DIBS and several other processors take amounts in
// this representation.
func (m Money) ToMinorUnits() int64 {
	places := DecimalPlaces(m.Currency)
	return m.Amount.Shift(places).Round(0).IntPart()
}

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Both values must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// String formats the amount at currency precision, e.g. "125.00 USD".
func (m Money) String() string {
	return m.Amount.StringFixed(DecimalPlaces(m.Currency)) + " " + m.Currency
}

// Format returns just the amount at currency precision without the
// currency code, the form most provider APIs expect.
func (m Money) Format() string {
	return m.Amount.StringFixed(DecimalPlaces(m.Currency))
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("money: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return nil
}
