package antplus

import (
	"encoding/binary"
	"fmt"

	"kettler-ant/internal/telemetry"
)

// speedEventStep is 0.25 s in 1/1024 s units.
const speedEventStep = 256

// SpeedEncoder produces the legacy bike speed page. It has no page number.
//
// Wheel revolutions are recomputed from the console's absolute distance on
// every call, so the distance a head unit derives never drifts from the
// console odometer.
type SpeedEncoder struct {
	measurementTime uint16
}

func (e *SpeedEncoder) EncodeSpeed(speed, distance uint16) Page {
	if speed > 0 {
		e.measurementTime += speedEventStep
	}

	p := Page{0xFF, 0xFF, 0xFF, 0xFF}
	binary.LittleEndian.PutUint16(p[4:6], e.measurementTime)
	binary.LittleEndian.PutUint16(p[6:8], uint16(WheelRevolutions(distance)))
	return p
}

// WheelRevolutions converts console distance units to whole wheel revolutions.
func WheelRevolutions(distance uint16) uint32 {
	meters := float64(distance) * DistanceUnitMeters
	return uint32(meters / WheelCircumference)
}

func (e *SpeedEncoder) Encode(s telemetry.Snapshot) Page {
	return e.EncodeSpeed(uint16(s.Speed), uint16(s.Distance))
}

func (e *SpeedEncoder) Summary(s telemetry.Snapshot, _ Page) string {
	return fmt.Sprintf("speed[%.1f km/h] dist[%dm]", float64(s.Speed)/10, s.Distance*DistanceUnitMeters)
}

func (e *SpeedEncoder) MeasurementTime() uint16 { return e.measurementTime }
