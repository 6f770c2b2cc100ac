package validate

import (
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
var orderNumberPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// New creates a validator with payment-specific rules registered.
func New() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("currency_code", validateCurrencyCode)
	_ = v.RegisterValidation("order_number", validateOrderNumber)
	_ = v.RegisterValidation("positive_amount", validatePositiveAmount)

	return v
}

// validateCurrencyCode checks for a three-letter uppercase ISO 4217 code
func validateCurrencyCode(fl validator.FieldLevel) bool {
	return currencyPattern.MatchString(fl.Field().String())
}

// validateOrderNumber checks the merchant order reference format
func validateOrderNumber(fl validator.FieldLevel) bool {
	return orderNumberPattern.MatchString(fl.Field().String())
}

// validatePositiveAmount checks that a string or decimal field parses as a positive amount
func validatePositiveAmount(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case decimal.Decimal:
		return v.IsPositive()
	case string:
		d, err := decimal.NewFromString(v)
		return err == nil && d.IsPositive()
	default:
		return false
	}
}
