package antplus

import (
	"kettler-ant/internal/telemetry"
)

// Page is one ANT+ broadcast payload.
type Page [8]byte

// Device type codes.
const (
	DeviceTypePower            uint8 = 11
	DeviceTypeFitnessEquipment uint8 = 0x11
	DeviceTypeHeartRate        uint8 = 120
	DeviceTypeSpeed            uint8 = 123
)

// Channel periods, in 1/32768 s.
const (
	PowerChannelPeriod     uint16 = 8182
	HeartRateChannelPeriod uint16 = 8070
	SpeedChannelPeriod     uint16 = 8118
	FEChannelPeriod        uint16 = 8192
)

const (
	Network        uint8  = 1
	RFFrequency    uint8  = 57 // 2457 MHz
	SearchTimeout  uint8  = 40
	ManufacturerID uint8  = 5
	DeviceIDBase   uint16 = 12329
)

// Page numbers.
const (
	PowerPageStandard        byte = 0x10
	HeartRatePageDefault     byte = 0x00
	FEPageGeneralData        byte = 0x10
	FEPageStationaryBikeData byte = 0x15
	FEPageGeneralSettings    byte = 0x17
	FEPageTrainerData        byte = 0x19
	FEPageTargetPower        byte = 0x31 // head unit -> device
)

const FEEquipmentStationaryBike byte = 21

// Kettler distance unit, metres.
const DistanceUnitMeters = 100

// WheelCircumference of a 700x25c road tyre, metres.
const WheelCircumference = 2.105

// Profile ties a device profile to its channel identity.
type Profile struct {
	Name       string
	Channel    uint8
	DeviceType uint8
	Period     uint16
}

func (p Profile) DeviceID() uint16 {
	return DeviceIDBase + uint16(p.DeviceType)
}

var (
	ProfilePower            = Profile{Name: "power", Channel: 0, DeviceType: DeviceTypePower, Period: PowerChannelPeriod}
	ProfileHeartRate        = Profile{Name: "hr", Channel: 1, DeviceType: DeviceTypeHeartRate, Period: HeartRateChannelPeriod}
	ProfileSpeed            = Profile{Name: "speed", Channel: 2, DeviceType: DeviceTypeSpeed, Period: SpeedChannelPeriod}
	ProfileFitnessEquipment = Profile{Name: "fe", Channel: 3, DeviceType: DeviceTypeFitnessEquipment, Period: FEChannelPeriod}
)

// Profiles in transmit order.
func Profiles() []Profile {
	return []Profile{ProfilePower, ProfileHeartRate, ProfileSpeed, ProfileFitnessEquipment}
}

// Encoder turns a snapshot into the next page of one profile. Every call
// advances the encoder's own rolling state.
type Encoder interface {
	Encode(s telemetry.Snapshot) Page
	// Summary describes the fields that went into p, for logs.
	Summary(s telemetry.Snapshot, p Page) string
}

// NewEncoder returns a fresh encoder for p, or nil for an unknown profile.
func NewEncoder(p Profile) Encoder {
	switch p.DeviceType {
	case DeviceTypePower:
		return &PowerEncoder{}
	case DeviceTypeHeartRate:
		return &HeartRateEncoder{}
	case DeviceTypeSpeed:
		return &SpeedEncoder{}
	case DeviceTypeFitnessEquipment:
		return &FitnessEquipmentEncoder{}
	}
	return nil
}
