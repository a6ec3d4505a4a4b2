package inventory

import (
	"errors"

	"github.com/next-trace/scg-parking-bus/parking"
	"github.com/next-trace/scg-parking-bus/servicebus"
)

// Bind serves the six inventory operations on their request destinations.
func (s *Service) Bind(b *servicebus.Broker, d parking.Destinations) error {
	return errors.Join(
		servicebus.BindFunc(b, d.Request(parking.OpSpaceByID), s.GetSpace),
		servicebus.BindFunc(b, d.Request(parking.OpNextAvailable), s.NextAvailable),
		servicebus.BindFunc(b, d.Request(parking.OpSpacesQuery), s.QuerySpaces),
		servicebus.BindFunc(b, d.Request(parking.OpParkingStart), s.StartSession),
		servicebus.BindFunc(b, d.Request(parking.OpParkingByID), s.GetSession),
		servicebus.BindFunc(b, d.Request(parking.OpParkingCompletion), s.EndSession),
	)
}
