package inventory

import "github.com/next-trace/scg-parking-bus/parking"

// nextAvailable maps a vehicle type to one space id believed free. A missing entry
// means unknown; callers fall back to a scan. Guarded by Service.mu.
type nextAvailable map[parking.VehicleType]int64

func (c nextAvailable) get(t parking.VehicleType) (int64, bool) {
	id, ok := c[t]
	return id, ok
}

func (c nextAvailable) set(t parking.VehicleType, id int64) { c[t] = id }

func (c nextAvailable) forget(t parking.VehicleType) { delete(c, t) }

func (c nextAvailable) reset() { clear(c) }
