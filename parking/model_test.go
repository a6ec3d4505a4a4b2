package parking_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/parking"
)

func TestSpace_OccupyRelease(t *testing.T) {
	s := parking.NewSpace(3, parking.KW20)
	if !s.Available() || s.CurrentSessionID != nil {
		t.Fatalf("new space must be available: %+v", s)
	}

	s.Occupy(100)

	if s.Status != parking.Occupied || s.CurrentSessionID == nil || *s.CurrentSessionID != 100 {
		t.Fatalf("occupy: %+v", s)
	}

	s.Release()

	if s.Status != parking.Available || s.CurrentSessionID != nil {
		t.Fatalf("release: %+v", s)
	}
}

func TestSession_Complete(t *testing.T) {
	start := time.Date(2020, 4, 13, 7, 30, 0, 0, time.UTC)
	s := parking.Session{ID: 1, SpaceID: 2, StartTime: start}

	amount := 5.6
	done := s.Complete(start.Add(90*time.Minute+400*time.Millisecond), parking.Billing{Currency: "EUR", Amount: &amount})

	if s.Completed() {
		t.Fatalf("Complete must not mutate the receiver")
	}

	if !done.Completed() || *done.DurationSeconds != 5400 || done.Billing == nil {
		t.Fatalf("completed: %+v", done)
	}

	if parking.Duration(start, start.Add(-time.Second)) != 0 {
		t.Fatalf("negative durations clamp to zero")
	}
}

func TestSession_JSONOmitsUnsetFields(t *testing.T) {
	b, err := json.Marshal(parking.Session{ID: 1, SpaceID: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, k := range []string{"endTime", "durationSeconds", "billing"} {
		if _, ok := m[k]; ok {
			t.Fatalf("%s must be omitted for an ongoing session: %s", k, b)
		}
	}

	if m["parkingSpaceId"] != float64(2) {
		t.Fatalf("parkingSpaceId: %s", b)
	}
}

func TestStartRequest_Validate(t *testing.T) {
	now := time.Now()
	id := int64(9)
	d := int64(1)

	tests := []struct {
		name  string
		req   parking.StartRequest
		valid bool
		field string
	}{
		{"only space id", parking.StartRequest{SpaceID: 1}, true, ""},
		{"missing space id", parking.StartRequest{}, false, "SpaceID"},
		{"negative space id", parking.StartRequest{SpaceID: -1}, false, "SpaceID"},
		{"id set", parking.StartRequest{SpaceID: 1, ID: &id}, false, "ID"},
		{"start time set", parking.StartRequest{SpaceID: 1, StartTime: &now}, false, "StartTime"},
		{"end time set", parking.StartRequest{SpaceID: 1, EndTime: &now}, false, "EndTime"},
		{"duration set", parking.StartRequest{SpaceID: 1, DurationSeconds: &d}, false, "DurationSeconds"},
		{"billing set", parking.StartRequest{SpaceID: 1, Billing: &parking.Billing{Currency: "EUR"}}, false, "Billing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.valid {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				return
			}

			if !errors.Is(err, berr.ErrMalformedRequest) {
				t.Fatalf("want ErrMalformedRequest, got %v", err)
			}

			var verrs parking.ValidationErrors
			if !errors.As(err, &verrs) || len(verrs) == 0 || verrs[0].Field != tt.field {
				t.Fatalf("want field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestSpaceQuery_Validate(t *testing.T) {
	if err := (parking.SpaceQuery{Type: parking.KW50, Status: parking.Available, Count: 2}).Validate(); err != nil {
		t.Fatalf("valid query: %v", err)
	}

	if err := (parking.SpaceQuery{Type: "DIESEL", Status: parking.Available}).Validate(); !errors.Is(err, berr.ErrMalformedRequest) {
		t.Fatalf("unknown type: %v", err)
	}

	if err := (parking.SpaceQuery{Type: parking.KW20}).Validate(); !errors.Is(err, berr.ErrMalformedRequest) {
		t.Fatalf("missing status: %v", err)
	}
}

func TestDestinations(t *testing.T) {
	d := parking.NewDestinations("")

	if got := d.Request(parking.OpParkingStart); got != "parking.request.parking-start" {
		t.Fatalf("request: %s", got)
	}

	routes := d.Routes()
	if len(routes) != len(parking.Operations) {
		t.Fatalf("routes: %v", routes)
	}

	if routes["parking.request.billing-calculation"] != "parking.reply.billing-calculation" {
		t.Fatalf("billing route: %v", routes)
	}
}

func TestVehicleTypeAndStatusValid(t *testing.T) {
	for _, vt := range parking.VehicleTypes {
		if !vt.Valid() {
			t.Fatalf("%s must be valid", vt)
		}
	}

	if parking.VehicleType("DIESEL").Valid() || parking.Status("BROKEN").Valid() {
		t.Fatalf("unknown values must be invalid")
	}
}
