package broadcast

import (
	"fmt"
	"log"
	"sync"

	"kettler-ant/internal/antplus"
	"kettler-ant/internal/events"
	"kettler-ant/internal/radio"
	"kettler-ant/internal/telemetry"
)

type State int

const (
	Unassigned State = iota
	Assigned
	Configured
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Unassigned:
		return "unassigned"
	case Assigned:
		return "assigned"
	case Configured:
		return "configured"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Channel binds one profile encoder to one ANT channel on a shared radio.
// Open, Broadcast and Close are driven by a single goroutine; State and
// LastPage may be read from others.
type Channel struct {
	profile antplus.Profile
	enc     antplus.Encoder
	radio   radio.Radio
	debug   bool
	evbuf   events.Buffer

	mu       sync.RWMutex
	state    State
	lastPage antplus.Page

	lastSummary map[byte]string // по номеру страницы: FE чередует две
}

type Option func(*Channel)

func WithDebug(debug bool) Option {
	return func(c *Channel) { c.debug = debug }
}

// WithEvents pushes every page whose fields changed since the last page of
// the same number to buf.
func WithEvents(buf events.Buffer) Option {
	return func(c *Channel) { c.evbuf = buf }
}

func New(p antplus.Profile, r radio.Radio, opts ...Option) *Channel {
	c := &Channel{
		profile: p,
		enc:     antplus.NewEncoder(p),
		radio:   r,

		lastSummary: map[byte]string{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Channel) Profile() antplus.Profile { return c.profile }

func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) LastPage() antplus.Page {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPage
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Open runs close, assign, configure and open. A close rejected because the
// channel was never assigned or opened is ignored; any other failure is a
// *radio.SetupError.
func (c *Channel) Open() error {
	ch := c.profile.Channel

	// канал мог остаться открытым с прошлого запуска
	if err := c.radio.CloseChannel(ch); err != nil {
		if !radio.IsWrongState(err) {
			return &radio.SetupError{Channel: ch, Op: "close", Err: err}
		}
		if c.debug {
			log.Printf("[ant] channel %d pre-close: %v", ch, err)
		}
	}

	if err := c.radio.AssignChannel(ch, antplus.Network); err != nil {
		return &radio.SetupError{Channel: ch, Op: "assign", Err: err}
	}
	c.setState(Assigned)

	steps := []struct {
		op string
		fn func() error
	}{
		{"set id", func() error {
			return c.radio.SetChannelID(ch, c.profile.DeviceID(), c.profile.DeviceType, antplus.ManufacturerID)
		}},
		{"set frequency", func() error { return c.radio.SetChannelFrequency(ch, antplus.RFFrequency) }},
		{"set period", func() error { return c.radio.SetChannelPeriod(ch, c.profile.Period) }},
		{"set search timeout", func() error { return c.radio.SetSearchTimeout(ch, antplus.SearchTimeout) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return &radio.SetupError{Channel: ch, Op: s.op, Err: err}
		}
	}
	c.setState(Configured)

	if err := c.radio.OpenChannel(ch); err != nil {
		return &radio.SetupError{Channel: ch, Op: "open", Err: err}
	}
	c.setState(Open)

	log.Printf("[ant] initialised broadcaster for deviceId[%d] of type[%d] on channel[%d]",
		c.profile.DeviceID(), c.profile.DeviceType, ch)
	return nil
}

// Broadcast encodes s and sends it. Valid only while open.
func (c *Channel) Broadcast(s telemetry.Snapshot) error {
	if c.State() != Open {
		return &radio.SendError{Channel: c.profile.Channel, Err: radio.ErrNotOpen}
	}

	page := c.enc.Encode(s)
	summary := c.enc.Summary(s, page)
	changed := summary != c.lastSummary[page[0]]
	if c.debug || changed {
		log.Printf("[ant] %s device[%d]: % x %s", c.profile.Name, c.profile.DeviceID(), page[:], summary)
	}
	if changed && c.evbuf != nil {
		c.evbuf.Push(events.Event{
			DeviceID: fmt.Sprintf("%d", c.profile.DeviceID()),
			Topic:    "ant/" + c.profile.Name,
			Payload:  []byte(fmt.Sprintf(`{"channel":%d,"page":"% x","summary":%q}`, c.profile.Channel, page[:], summary)),
		})
	}
	c.lastSummary[page[0]] = summary

	if err := c.radio.SendBroadcast(c.profile.Channel, page); err != nil {
		return &radio.SendError{Channel: c.profile.Channel, Err: err}
	}
	c.mu.Lock()
	c.lastPage = page
	c.mu.Unlock()
	return nil
}

// Close may be called in any state and any number of times. Radio errors are
// logged, never returned: shutdown must complete.
func (c *Channel) Close() {
	c.mu.Lock()
	prev := c.state
	c.state = Closed
	c.mu.Unlock()
	if prev == Closed || prev == Unassigned {
		return
	}
	if err := c.radio.CloseChannel(c.profile.Channel); err != nil {
		log.Printf("[ant] close channel %d: %v", c.profile.Channel, err)
		return
	}
	if c.debug {
		log.Printf("[ant] closed channel %d", c.profile.Channel)
	}
}
