package antplus

import (
	"encoding/binary"
	"fmt"
	"math"

	"kettler-ant/internal/telemetry"
)

// HeartRateEncoder produces HRM default data page 0. The beat time is
// synthesised from the reported rate: one beat per call.
type HeartRateEncoder struct {
	measurementTime uint16 // 1/1024 s
	beatCount       uint8
}

func (e *HeartRateEncoder) EncodeHeartRate(hr uint16) Page {
	// нет пульса — нет удара, время не двигаем
	if hr > 0 {
		interval := math.Round(60.0 / float64(hr) * 1024)
		e.measurementTime += uint16(interval)
		e.beatCount++
	}

	p := Page{HeartRatePageDefault, 0xFF, 0xFF, 0xFF}
	binary.LittleEndian.PutUint16(p[4:6], e.measurementTime)
	p[6] = e.beatCount
	p[7] = byte(hr)
	return p
}

func (e *HeartRateEncoder) Encode(s telemetry.Snapshot) Page {
	return e.EncodeHeartRate(uint16(s.HeartRate))
}

func (e *HeartRateEncoder) Summary(s telemetry.Snapshot, _ Page) string {
	return fmt.Sprintf("hr[%d]", s.HeartRate)
}

func (e *HeartRateEncoder) MeasurementTime() uint16 { return e.measurementTime }

func (e *HeartRateEncoder) BeatCount() uint8 { return e.beatCount }
