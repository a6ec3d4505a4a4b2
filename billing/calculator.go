package billing

import (
	"context"
	"fmt"
	"math"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/parking"
)

// Calculator is a pure function of a session's duration and the pricing strategy.
type Calculator struct {
	pricing PricingStrategy
}

func NewCalculator(p PricingStrategy) (*Calculator, error) {
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &Calculator{pricing: p}, nil
}

func (c *Calculator) Pricing() PricingStrategy { return c.pricing }

// Compute prices s. The session must carry its duration.
func (c *Calculator) Compute(_ context.Context, s parking.Session) (parking.Billing, error) {
	if s.DurationSeconds == nil {
		return parking.Billing{}, fmt.Errorf("session %d has no duration: %w", s.ID, berr.ErrBillingFailure)
	}

	if *s.DurationSeconds < 0 {
		return parking.Billing{}, fmt.Errorf("session %d has negative duration: %w", s.ID, berr.ErrBillingFailure)
	}

	amount := float64(*s.DurationSeconds) * c.pricing.PricePerSecond
	if c.pricing.Strategy == WithFixedAmount {
		amount += c.pricing.FixedAmount
	}

	amount = roundCents(amount)

	return parking.Billing{Currency: c.pricing.Currency, Amount: &amount}, nil
}

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }
