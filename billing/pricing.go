// Package billing prices completed parking sessions and serves the price over the bus.
package billing

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Strategy selects how a session is priced.
type Strategy string

const (
	// WithFixedAmount charges FixedAmount plus PricePerSecond for every second parked.
	WithFixedAmount Strategy = "WITH_FIXED_AMOUNT"
	// DurationOnly charges PricePerSecond for every second parked.
	DurationOnly Strategy = "DURATION_ONLY"
)

const DefaultCurrency = "EUR"

// PricingStrategy is the pricing configuration.
type PricingStrategy struct {
	Strategy       Strategy `validate:"required,oneof=WITH_FIXED_AMOUNT DURATION_ONLY"`
	FixedAmount    float64  `validate:"gte=0"`
	PricePerSecond float64  `validate:"gte=0"`
	Currency       string   `validate:"required,len=3,uppercase"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (p PricingStrategy) Validate() error {
	if err := validate.Struct(p); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return fmt.Errorf("pricing %s: invalid %s (%s)", p.Strategy, validationErrs[0].Field(), validationErrs[0].Tag())
		}

		return fmt.Errorf("pricing: %w", err)
	}

	return nil
}
