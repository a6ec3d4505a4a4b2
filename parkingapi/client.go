// Package parkingapi is the typed caller-side client for the parking operations.
// Every method blocks until the reply arrives, the broker timeout fires or ctx ends.
package parkingapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/parking"
	"github.com/next-trace/scg-parking-bus/servicebus"
)

type Client struct {
	broker *servicebus.Broker
	dest   parking.Destinations
}

func New(b *servicebus.Broker, d parking.Destinations) *Client {
	return &Client{broker: b, dest: d}
}

func (c *Client) GetSpace(ctx context.Context, id int64) (parking.Space, error) {
	return servicebus.Call[int64, parking.Space](ctx, c.broker, c.dest.Request(parking.OpSpaceByID), idKey(id), id)
}

func (c *Client) NextAvailable(ctx context.Context, t parking.VehicleType) (parking.Space, error) {
	return servicebus.Call[parking.VehicleType, parking.Space](ctx, c.broker, c.dest.Request(parking.OpNextAvailable), string(t), t)
}

func (c *Client) QuerySpaces(ctx context.Context, q parking.SpaceQuery) (parking.SpaceQueryResult, error) {
	return servicebus.Call[parking.SpaceQuery, parking.SpaceQueryResult](ctx, c.broker, c.dest.Request(parking.OpSpacesQuery), string(q.Type), q)
}

// SearchSpaces answers a single-available-space search from the next-available cache
// and falls back to a full query otherwise. No match is an empty result.
func (c *Client) SearchSpaces(ctx context.Context, q parking.SpaceQuery) (parking.SpaceQueryResult, error) {
	if q.Count != 1 || q.Status != parking.Available {
		return c.QuerySpaces(ctx, q)
	}

	sp, err := c.NextAvailable(ctx, q.Type)
	if errors.Is(err, berr.ErrNotFound) {
		return parking.SpaceQueryResult{Result: []parking.Space{}}, nil
	}

	if err != nil {
		return parking.SpaceQueryResult{}, err
	}

	return parking.SpaceQueryResult{Result: []parking.Space{sp}}, nil
}

// StartParking rejects malformed requests before anything is sent.
func (c *Client) StartParking(ctx context.Context, req parking.StartRequest) (parking.Session, error) {
	if err := req.Validate(); err != nil {
		return parking.Session{}, fmt.Errorf("start parking: %w", err)
	}

	return servicebus.Call[parking.StartRequest, parking.Session](ctx, c.broker, c.dest.Request(parking.OpParkingStart), idKey(req.SpaceID), req)
}

func (c *Client) GetParking(ctx context.Context, id int64) (parking.Session, error) {
	return servicebus.Call[int64, parking.Session](ctx, c.broker, c.dest.Request(parking.OpParkingByID), idKey(id), id)
}

// EndParking completes a session. A timeout here does not mean the completion was not applied.
func (c *Client) EndParking(ctx context.Context, id int64) (parking.Session, error) {
	return servicebus.Call[int64, parking.Session](ctx, c.broker, c.dest.Request(parking.OpParkingCompletion), idKey(id), id)
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }
