// Package parking holds the data model shared by the inventory, billing and caller client.
package parking

import "time"

// VehicleType is the kind of vehicle a space accepts. Immutable per space.
type VehicleType string

const (
	Gasoline VehicleType = "GASOLINE"
	KW20     VehicleType = "KW20"
	KW50     VehicleType = "KW50"
)

// VehicleTypes lists every type in provisioning order.
var VehicleTypes = []VehicleType{Gasoline, KW20, KW50}

func (t VehicleType) Valid() bool {
	switch t {
	case Gasoline, KW20, KW50:
		return true
	default:
		return false
	}
}

type Status string

const (
	Available Status = "AVAILABLE"
	Occupied  Status = "OCCUPIED"
)

func (s Status) Valid() bool { return s == Available || s == Occupied }

// Space is a single parking space. Status is OCCUPIED exactly when CurrentSessionID is set.
type Space struct {
	ID               int64       `json:"id" bson:"_id"`
	Type             VehicleType `json:"type" bson:"type"`
	Status           Status      `json:"status" bson:"status"`
	CurrentSessionID *int64      `json:"currentSessionId,omitempty" bson:"currentSessionId,omitempty"`
}

// NewSpace returns an available space.
func NewSpace(id int64, t VehicleType) Space {
	return Space{ID: id, Type: t, Status: Available}
}

func (s Space) Available() bool { return s.Status == Available }

// Occupy marks s as taken by sessionID.
func (s *Space) Occupy(sessionID int64) {
	s.Status = Occupied
	s.CurrentSessionID = &sessionID
}

// Release frees s.
func (s *Space) Release() {
	s.Status = Available
	s.CurrentSessionID = nil
}

// Session is one vehicle occupying a space. EndTime, DurationSeconds and Billing are
// either all unset (ongoing) or all set (completed, terminal).
type Session struct {
	ID              int64      `json:"id" bson:"_id"`
	SpaceID         int64      `json:"parkingSpaceId" bson:"parkingSpaceId"`
	StartTime       time.Time  `json:"startTime" bson:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty" bson:"endTime,omitempty"`
	DurationSeconds *int64     `json:"durationSeconds,omitempty" bson:"durationSeconds,omitempty"`
	Billing         *Billing   `json:"billing,omitempty" bson:"billing,omitempty"`
}

func (s Session) Completed() bool { return s.EndTime != nil }

// Complete returns a copy of s ended at end. Duration is whole seconds, never negative.
func (s Session) Complete(end time.Time, b Billing) Session {
	d := Duration(s.StartTime, end)
	s.EndTime = &end
	s.DurationSeconds = &d
	s.Billing = &b

	return s
}

// Duration returns the whole seconds between start and end, clamped at zero.
func Duration(start, end time.Time) int64 {
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}

	return d
}

// Billing is the price attached to a completed session.
type Billing struct {
	Currency string   `json:"currency" bson:"currency"`
	Amount   *float64 `json:"amount,omitempty" bson:"amount,omitempty"`
}

// SpaceQuery filters spaces by type and status; Count caps the result size.
type SpaceQuery struct {
	Type   VehicleType `json:"type" validate:"required,oneof=GASOLINE KW20 KW50"`
	Status Status      `json:"status" validate:"required,oneof=AVAILABLE OCCUPIED"`
	Count  int         `json:"count"`
}

type SpaceQueryResult struct {
	Result []Space `json:"result"`
}
