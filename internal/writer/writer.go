package writer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"kettler-ant/internal/antplus"
	"kettler-ant/internal/broadcast"
	"kettler-ant/internal/events"
	"kettler-ant/internal/radio"
	"kettler-ant/internal/telemetry"
)

var (
	ErrLoopDied     = errors.New("writer: transmit loop died")
	ErrAlreadyStart = errors.New("writer: already started")
)

type Config struct {
	Interval    time.Duration
	SettleDelay time.Duration // pause after each send; 0 when the radio send is synchronous
	Profiles    []antplus.Profile
	Debug       bool
}

// Writer owns the broadcast channels and the only goroutine that sends on
// them.
type Writer struct {
	cfg      Config
	model    *telemetry.Model
	channels []*broadcast.Channel
	evbuf    events.Buffer

	running atomic.Bool
	stopReq atomic.Bool
	died    atomic.Bool
	started atomic.Bool

	mu         sync.Mutex
	lastUpdate time.Time
	readyCh    chan struct{}
	readyOnce  sync.Once
}

// New opens a channel per configured profile, in order. Startup is
// sequential; the first setup failure closes what was opened and is returned.
func New(cfg Config, r radio.Radio, model *telemetry.Model, evbuf events.Buffer) (*Writer, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = antplus.Profiles()
	}
	if model == nil {
		model = telemetry.NewModel()
	}

	w := &Writer{
		cfg:     cfg,
		model:   model,
		evbuf:   evbuf,
		readyCh: make(chan struct{}),
	}

	for _, p := range cfg.Profiles {
		opts := []broadcast.Option{broadcast.WithDebug(cfg.Debug)}
		if evbuf != nil {
			opts = append(opts, broadcast.WithEvents(evbuf))
		}
		ch := broadcast.New(p, r, opts...)
		if err := ch.Open(); err != nil {
			ch.Close()
			w.closeAll()
			return nil, err
		}
		w.channels = append(w.channels, ch)
	}

	if cfg.Debug {
		ids := make([]string, 0, len(w.channels))
		for _, ch := range w.channels {
			ids = append(ids, fmt.Sprintf("%s[%d]", ch.Profile().Name, ch.Profile().DeviceID()))
		}
		log.Printf("[writer] set up with interval[%s] %v", cfg.Interval, ids)
	}
	return w, nil
}

// UpdateModel stores a new console reading. Out-of-range values are clamped.
func (w *Writer) UpdateModel(s telemetry.Snapshot) {
	w.model.Set(s)
}

func (w *Writer) Model() *telemetry.Model { return w.model }

func (w *Writer) Channels() []*broadcast.Channel { return w.channels }

// Run drives the transmit loop until Stop is called or ctx is done. A send
// failure ends the loop: all channels are closed and the returned error
// wraps ErrLoopDied and the *radio.SendError.
func (w *Writer) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStart
	}
	w.running.Store(true)
	w.readyOnce.Do(func() { close(w.readyCh) })
	defer w.running.Store(false)
	defer w.closeAll()

	log.Printf("[writer] starting ANT+ writing loop...")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if w.stopReq.Load() || ctx.Err() != nil {
			if w.cfg.Debug {
				log.Printf("[writer] closing send loop")
			}
			return nil
		}

		if err := w.tick(ctx); err != nil {
			w.died.Store(true)
			log.Printf("[writer] failed: %v", err)
			if w.evbuf != nil {
				w.evbuf.Push(events.Event{
					DeviceID: "writer",
					Topic:    "writer/died",
					Payload:  []byte(fmt.Sprintf("%q", err.Error())),
				})
			}
			return fmt.Errorf("%w: %w", ErrLoopDied, err)
		}
		w.markProgress()

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// tick sends the current snapshot on every channel in order.
func (w *Writer) tick(ctx context.Context) error {
	snap := w.model.Get()
	for _, ch := range w.channels {
		if err := ch.Broadcast(snap); err != nil {
			return err
		}
		if w.cfg.SettleDelay > 0 {
			select {
			case <-time.After(w.cfg.SettleDelay):
			case <-ctx.Done():
			}
		}
	}
	return nil
}

// Close closes every channel. Safe to call whether or not Run was started.
func (w *Writer) Close() {
	w.closeAll()
}

func (w *Writer) closeAll() {
	for _, ch := range w.channels {
		ch.Close()
	}
}

func (w *Writer) markProgress() {
	w.mu.Lock()
	w.lastUpdate = time.Now()
	w.mu.Unlock()
}

// LastUpdate is the time of the last completed cycle.
func (w *Writer) LastUpdate() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUpdate
}

// Stop asks the loop to exit before its next cycle. An in-flight send is not
// interrupted.
func (w *Writer) Stop() {
	w.stopReq.Store(true)
}

func (w *Writer) Running() bool { return w.running.Load() }

func (w *Writer) Died() bool { return w.died.Load() }

// AwaitRunning blocks until Run has started. It returns ErrLoopDied if the
// loop has already died.
func (w *Writer) AwaitRunning(ctx context.Context) error {
	select {
	case <-w.readyCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if w.died.Load() {
		return ErrLoopDied
	}
	return nil
}
