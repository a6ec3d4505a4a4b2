package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/parking"
	"github.com/next-trace/scg-parking-bus/servicebus"
)

// Bind serves the billing-calculation operation with calc.
func Bind(b *servicebus.Broker, d parking.Destinations, calc *Calculator) error {
	return servicebus.BindFunc(b, d.Request(parking.OpBillingCalculation), calc.Compute)
}

// Client prices sessions by asking the billing responder over the bus.
// It satisfies inventory.Biller.
type Client struct {
	broker *servicebus.Broker
	dest   string
}

func NewClient(b *servicebus.Broker, d parking.Destinations) *Client {
	return &Client{broker: b, dest: d.Request(parking.OpBillingCalculation)}
}

// Compute returns the remote price for s. Every failure, timeouts included, is a billing failure.
func (c *Client) Compute(ctx context.Context, s parking.Session) (parking.Billing, error) {
	key := strconv.FormatInt(s.ID, 10)

	bill, err := servicebus.Call[parking.Session, parking.Billing](ctx, c.broker, c.dest, key, s)
	if err != nil {
		if !errors.Is(err, berr.ErrBillingFailure) {
			err = errors.Join(berr.ErrBillingFailure, err)
		}

		return parking.Billing{}, fmt.Errorf("billing session %d: %w", s.ID, err)
	}

	return bill, nil
}
