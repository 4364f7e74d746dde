// cmd/kettler-emulator/main.go
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial"

	"kettler-ant/internal/kettler"
	"kettler-ant/internal/telemetry"
)

// rider produces plausible telemetry around a target power.
type rider struct {
	mu       sync.Mutex
	start    time.Time
	last     time.Time
	target   float64
	jitter   float64
	distance float64 // meters
	energy   float64 // joules
}

func newRider(target int, jitter float64) *rider {
	now := time.Now()
	return &rider{start: now, last: now, target: float64(target), jitter: jitter}
}

func (r *rider) next() telemetry.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	dt := now.Sub(r.last).Seconds()
	r.last = now

	power := r.target * (1 + (rand.Float64()*2-1)*r.jitter)
	if power < 0 {
		power = 0
	}
	cadence := 60 + power/10
	kmh := 10 + math.Sqrt(power)*1.5
	r.distance += kmh / 3.6 * dt
	r.energy += power * dt
	elapsed := now.Sub(r.start).Seconds()

	return telemetry.Clamp(telemetry.Snapshot{
		Power:       int(power),
		Cadence:     int(cadence),
		HeartRate:   int(90 + power/4),
		Speed:       int(kmh * 10),
		Distance:    int(r.distance / 100),
		Energy:      int(r.energy / 1000),
		ElapsedTime: int(elapsed),
	})
}

func main() {
	var (
		device  = flag.String("device", "/dev/ttyUSB1", "Serial port to answer on (e.g. one end of a socat pty pair)")
		baud    = flag.Int("baud", kettler.DefaultUSBBaud, "Baud rate")
		id      = flag.String("id", "KETTLER-EMU", "Reply to ID")
		power   = flag.Int("power", 150, "Target power, W")
		jitter  = flag.Float64("jitter", 0.1, "Power jitter (0..1)")
		verbose = flag.Bool("v", false, "Verbose logs")
	)
	flag.Parse()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	port, err := serial.Open(*device, &serial.Mode{
		BaudRate: *baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		log.Fatalf("open %s: %v", *device, err)
	}
	defer port.Close()
	// короткий таймаут, чтобы Serve видел отмену ctx
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		log.Fatalf("set timeout: %v", err)
	}

	log.Printf("kettler-emulator started device=%s baud=%d id=%s power=%dW", *device, *baud, *id, *power)

	rd := newRider(*power, *jitter)
	if err := kettler.Serve(ctx, port, *id, rd.next, *verbose); err != nil && ctx.Err() == nil {
		log.Fatalf("serve: %v", err)
	}
	log.Printf("kettler-emulator stopped")
}
