package telemetry

import (
	"fmt"
	"sync"
)

// Пределы значений, которые отдаёт консоль.
const (
	MaxPower       = 2048
	MaxCadence     = 255
	MaxHeartRate   = 255
	MaxSpeed       = 9999 // 0.1 km/h, ~999.9 km/h
	MaxDistance    = 65535
	MaxEnergy      = 65535
	MaxElapsedTime = 65535
)

// Snapshot is one reading of the bike console.
type Snapshot struct {
	Power       int `json:"power"`        // W
	Cadence     int `json:"cadence"`      // rpm
	HeartRate   int `json:"heart_rate"`   // bpm
	Speed       int `json:"speed"`        // 0.1 km/h
	Distance    int `json:"distance"`     // console units, 100 m each
	Energy      int `json:"energy"`       // kJ
	ElapsedTime int `json:"elapsed_time"` // s
}

func (s Snapshot) String() string {
	return fmt.Sprintf("power[%d] cadence[%d] hr[%d] speed[%d] dist[%d] energy[%d] time[%d]",
		s.Power, s.Cadence, s.HeartRate, s.Speed, s.Distance, s.Energy, s.ElapsedTime)
}

// Clamp returns a copy of s with every field forced into its valid range.
func Clamp(s Snapshot) Snapshot {
	return Snapshot{
		Power:       checkRange(0, s.Power, MaxPower),
		Cadence:     checkRange(0, s.Cadence, MaxCadence),
		HeartRate:   checkRange(0, s.HeartRate, MaxHeartRate),
		Speed:       checkRange(0, s.Speed, MaxSpeed),
		Distance:    checkRange(0, s.Distance, MaxDistance),
		Energy:      checkRange(0, s.Energy, MaxEnergy),
		ElapsedTime: checkRange(0, s.ElapsedTime, MaxElapsedTime),
	}
}

func checkRange(lo, v, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Model holds the latest snapshot. Written by the console poller, read by the
// transmit loop once per tick.
type Model struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewModel() *Model {
	return &Model{}
}

// Set clamps s and stores it. Out-of-range input is not an error.
func (m *Model) Set(s Snapshot) {
	c := Clamp(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = c
}

func (m *Model) Get() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}
