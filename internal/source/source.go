package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kettler-ant/internal/events"
	"kettler-ant/internal/kettler"
	"kettler-ant/internal/telemetry"
)

// Source produces console readings. kettler.ErrMalformed and
// kettler.ErrTimeout mean "no update this time", anything else is fatal to
// polling.
type Source interface {
	Read() (telemetry.Snapshot, error)
	Close() error
}

// Sink receives every good reading.
type Sink interface {
	UpdateModel(s telemetry.Snapshot)
}

type Factory func(opts kettler.Options) (Source, error)

// Factories maps the configured console mode to a constructor.
var Factories = map[kettler.Mode]Factory{
	kettler.ModeUSB:       openKettler,
	kettler.ModeBluetooth: openKettler,
	kettler.ModeSerial:    openKettler,
}

func openKettler(opts kettler.Options) (Source, error) {
	c, err := kettler.Open(opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func Open(opts kettler.Options) (Source, error) {
	f, ok := Factories[opts.Mode]
	if !ok {
		return nil, fmt.Errorf("source: unknown mode %q", opts.Mode)
	}
	return f(opts)
}

// Poll reads src every interval and hands good readings to sink until ctx
// is done or src fails. A malformed reading keeps the previous snapshot.
func Poll(ctx context.Context, src Source, sink Sink, interval time.Duration, evbuf events.Buffer) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last telemetry.Snapshot
	for {
		s, err := src.Read()
		switch {
		case errors.Is(err, kettler.ErrMalformed):
			log.Printf("[kettler] %v, keeping previous values", err)
			push(evbuf, "kettler/malformed", []byte(fmt.Sprintf("%q", err.Error())))
		case errors.Is(err, kettler.ErrTimeout):
			log.Printf("[kettler] no reply, keeping previous values")
			push(evbuf, "kettler/timeout", nil)
		case err != nil:
			return fmt.Errorf("source: read: %w", err)
		default:
			sink.UpdateModel(s)
			if s != last {
				push(evbuf, "kettler/status", []byte(fmt.Sprintf(
					`{"power":%d,"cadence":%d,"heart_rate":%d,"speed":%d,"distance":%d,"energy":%d,"elapsed_time":%d}`,
					s.Power, s.Cadence, s.HeartRate, s.Speed, s.Distance, s.Energy, s.ElapsedTime)))
				last = s
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func push(evbuf events.Buffer, topic string, payload []byte) {
	if evbuf == nil {
		return
	}
	evbuf.Push(events.Event{DeviceID: "kettler", Topic: topic, Payload: payload})
}
