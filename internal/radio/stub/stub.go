package stub

import (
	"fmt"
	"sync"

	"kettler-ant/internal/radio"
)

// Radio is an in-memory radio. It tracks channel state the way a real ANT
// chip does and records every broadcast. Used in tests and for dry runs.
type Radio struct {
	mu       sync.Mutex
	keys     map[uint8][]byte
	channels map[uint8]*Channel
	sent     []Broadcast
	calls    []string

	// Fail makes the named operation ("assign", "open", "send", ...) return
	// the error.
	Fail map[string]error

	history int // 0 = keep everything
}

type Channel struct {
	Network        uint8
	DeviceID       uint16
	DeviceType     uint8
	ManufacturerID uint8
	Frequency      uint8
	Period         uint16
	SearchTimeout  uint8
	Open           bool
}

type Broadcast struct {
	Channel uint8
	Data    [8]byte
}

// New returns a radio that records every call and broadcast.
func New() *Radio {
	return &Radio{
		keys:     map[uint8][]byte{},
		channels: map[uint8]*Channel{},
		Fail:     map[string]error{},
	}
}

// NewBounded keeps only the last n calls and broadcasts. For long dry runs.
func NewBounded(n int) *Radio {
	r := New()
	if n < 1 {
		n = 1
	}
	r.history = n
	return r
}

func (r *Radio) op(name string, channel uint8) error {
	r.calls = trim(append(r.calls, fmt.Sprintf("%s:%d", name, channel)), r.history)
	return r.Fail[name]
}

// trim drops the oldest entries once s holds twice the limit, so appends
// stay amortised O(1).
func trim[T any](s []T, limit int) []T {
	if limit <= 0 || len(s) < 2*limit {
		return s
	}
	return append(s[:0:0], s[len(s)-limit:]...)
}

func (r *Radio) get(channel uint8) (*Channel, error) {
	c, ok := r.channels[channel]
	if !ok {
		return nil, radio.ErrNotAssigned
	}
	return c, nil
}

func (r *Radio) SetNetworkKey(network uint8, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("key", network); err != nil {
		return err
	}
	r.keys[network] = append([]byte(nil), key...)
	return nil
}

func (r *Radio) AssignChannel(channel, network uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("assign", channel); err != nil {
		return err
	}
	r.channels[channel] = &Channel{Network: network}
	return nil
}

func (r *Radio) SetChannelID(channel uint8, deviceID uint16, deviceType, manufacturerID uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("id", channel); err != nil {
		return err
	}
	c, err := r.get(channel)
	if err != nil {
		return err
	}
	c.DeviceID, c.DeviceType, c.ManufacturerID = deviceID, deviceType, manufacturerID
	return nil
}

func (r *Radio) SetChannelFrequency(channel, freq uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("freq", channel); err != nil {
		return err
	}
	c, err := r.get(channel)
	if err != nil {
		return err
	}
	c.Frequency = freq
	return nil
}

func (r *Radio) SetChannelPeriod(channel uint8, period uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("period", channel); err != nil {
		return err
	}
	c, err := r.get(channel)
	if err != nil {
		return err
	}
	c.Period = period
	return nil
}

func (r *Radio) SetSearchTimeout(channel, timeout uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("timeout", channel); err != nil {
		return err
	}
	c, err := r.get(channel)
	if err != nil {
		return err
	}
	c.SearchTimeout = timeout
	return nil
}

func (r *Radio) OpenChannel(channel uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("open", channel); err != nil {
		return err
	}
	c, err := r.get(channel)
	if err != nil {
		return err
	}
	c.Open = true
	return nil
}

func (r *Radio) CloseChannel(channel uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("close", channel); err != nil {
		return err
	}
	c, err := r.get(channel)
	if err != nil {
		return err
	}
	c.Open = false
	return nil
}

func (r *Radio) SendBroadcast(channel uint8, data [8]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.op("send", channel); err != nil {
		return err
	}
	c, err := r.get(channel)
	if err != nil {
		return err
	}
	if !c.Open {
		return radio.ErrNotOpen
	}
	r.sent = trim(append(r.sent, Broadcast{Channel: channel, Data: data}), r.history)
	return nil
}

// Sent returns a copy of the recorded broadcasts, oldest first.
func (r *Radio) Sent() []Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tail(r.sent, r.history)
}

// Calls returns the operation log, e.g. "assign:0", "open:0".
func (r *Radio) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tail(r.calls, r.history)
}

func tail[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func (r *Radio) Channel(channel uint8) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[channel]
	if !ok {
		return Channel{}, false
	}
	return *c, true
}

func (r *Radio) SetFail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail[op] = err
}
