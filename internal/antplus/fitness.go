package antplus

import (
	"encoding/binary"
	"fmt"
	"math"

	"kettler-ant/internal/telemetry"
)

// FE state "In Use", bits 4-7 of the last byte.
const feStateInUse = 3 << 4

// General page capabilities: HR source ANT+ (bits 4-5 = 2), distance
// enabled (bit 2), real speed (bit 0 clear).
const feCapabilities = 0x2<<4 | 0x1<<2 | 0x0

const kcalPerKJ = 0.239

// FitnessEquipmentEncoder alternates the General FE Data page (0x10) and the
// Stationary Bike Data page (0x15), starting with the general page.
type FitnessEquipmentEncoder struct {
	toggle       uint
	eventCounter uint8
	accumPower   uint16
}

func (e *FitnessEquipmentEncoder) Encode(s telemetry.Snapshot) Page {
	var p Page
	if e.toggle%2 == 0 {
		p = e.generalPage(s)
	} else {
		p = e.stationaryBikePage(s)
	}
	e.toggle++
	return p
}

func (e *FitnessEquipmentEncoder) generalPage(s telemetry.Snapshot) Page {
	meters := s.Distance * DistanceUnitMeters
	// 0.1 km/h -> 0.001 m/s
	speed := uint16(math.Round(float64(s.Speed) * 1000 / 36))

	hr := byte(0xFF)
	if s.HeartRate > 0 {
		hr = byte(s.HeartRate)
	}

	p := Page{
		FEPageGeneralData,
		FEEquipmentStationaryBike,
		byte(s.ElapsedTime * 4), // 0.25 s, rolls over at 64 s
		byte(meters),            // m, rolls over at 256 m
	}
	binary.LittleEndian.PutUint16(p[4:6], speed)
	p[6] = hr
	p[7] = feCapabilities | feStateInUse
	return p
}

func (e *FitnessEquipmentEncoder) stationaryBikePage(s telemetry.Snapshot) Page {
	e.eventCounter++
	e.accumPower += uint16(s.Power)
	instant := uint16(s.Power) & 0x0FFF

	p := Page{
		FEPageStationaryBikeData,
		e.eventCounter,
		byte(s.Cadence),
	}
	binary.LittleEndian.PutUint16(p[3:5], e.accumPower)
	p[5] = byte(instant)
	p[6] = byte(instant>>8) & 0x0F
	p[7] = feStateInUse // no calibration flags
	return p
}

func (e *FitnessEquipmentEncoder) Summary(s telemetry.Snapshot, p Page) string {
	if p[0] == FEPageGeneralData {
		return fmt.Sprintf("general time[%ds] dist[%dm] speed[%.1f km/h] hr[%d]",
			s.ElapsedTime, s.Distance*DistanceUnitMeters, float64(s.Speed)/10, s.HeartRate)
	}
	return fmt.Sprintf("bike cadence[%d] power[%dW] energy[%d kJ / %d kcal]",
		s.Cadence, s.Power, s.Energy, int(float64(s.Energy)*kcalPerKJ))
}

func (e *FitnessEquipmentEncoder) EventCounter() uint8 { return e.eventCounter }

func (e *FitnessEquipmentEncoder) AccumulatedPower() uint16 { return e.accumPower }
