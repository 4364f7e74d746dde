package antplus

import (
	"encoding/binary"
	"fmt"

	"kettler-ant/internal/telemetry"
)

// 50/50 pedal balance, MSB marks the balance as known.
const powerBalance = 0x80 | 50

// PowerEncoder produces the standard power-only page (0x10).
type PowerEncoder struct {
	accum        uint16
	eventCounter uint8
}

func (e *PowerEncoder) EncodePower(power, cadence uint16) Page {
	e.accum += power

	var p Page
	p[0] = PowerPageStandard
	p[1] = e.eventCounter + 128
	p[2] = powerBalance
	p[3] = byte(cadence)
	binary.LittleEndian.PutUint16(p[4:6], e.accum)
	binary.LittleEndian.PutUint16(p[6:8], power)

	e.eventCounter++
	return p
}

func (e *PowerEncoder) Encode(s telemetry.Snapshot) Page {
	return e.EncodePower(uint16(s.Power), uint16(s.Cadence))
}

func (e *PowerEncoder) Summary(s telemetry.Snapshot, _ Page) string {
	return fmt.Sprintf("power[%d] cadence[%d]", s.Power, s.Cadence)
}

func (e *PowerEncoder) Accumulated() uint16 { return e.accum }

func (e *PowerEncoder) EventCounter() uint8 { return e.eventCounter }
