package writer

import (
	"context"
	"errors"
	"testing"
	"time"

	"kettler-ant/internal/antplus"
	"kettler-ant/internal/broadcast"
	"kettler-ant/internal/events"
	"kettler-ant/internal/radio"
	"kettler-ant/internal/radio/stub"
	"kettler-ant/internal/telemetry"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEndToEndTick(t *testing.T) {
	r := stub.New()
	w, err := New(Config{Interval: 5 * time.Millisecond}, r, nil, events.NewRing(64))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.UpdateModel(telemetry.Snapshot{Power: 200, Cadence: 90, HeartRate: 140, Speed: 250, Distance: 5, Energy: 50, ElapsedTime: 120})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	waitFor(t, "two cycles", func() bool { return len(r.Sent()) >= 8 })
	w.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := r.Sent()
	for i, ch := range []uint8{0, 1, 2, 3, 0, 1, 2, 3} {
		if sent[i].Channel != ch {
			t.Errorf("send %d on channel %d, want %d", i, sent[i].Channel, ch)
		}
	}
	if sent[0].Data[0] != 0x10 {
		t.Errorf("power page = %#x, want 0x10", sent[0].Data[0])
	}
	if sent[1].Data[0] != 0x00 {
		t.Errorf("hr page = %#x, want 0x00", sent[1].Data[0])
	}
	for i := 0; i < 4; i++ {
		if sent[2].Data[i] != 0xFF {
			t.Errorf("speed byte %d = %#x, want 0xff", i, sent[2].Data[i])
		}
	}
	if sent[3].Data[0] != 0x10 || sent[7].Data[0] != 0x15 {
		t.Errorf("fe pages = %#x, %#x, want 0x10, 0x15", sent[3].Data[0], sent[7].Data[0])
	}
	for _, ch := range w.Channels() {
		if ch.State() != broadcast.Closed {
			t.Errorf("%s state = %s after stop, want closed", ch.Profile().Name, ch.State())
		}
	}
	if w.Died() {
		t.Error("writer died on graceful stop")
	}
}

func TestSendFailureKillsLoop(t *testing.T) {
	r := stub.New()
	buf := events.NewRing(64)
	w, err := New(Config{Interval: time.Millisecond}, r, nil, buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	boom := errors.New("usb unplugged")
	r.SetFail("send", boom)

	err = w.Run(context.Background())
	if !errors.Is(err, ErrLoopDied) {
		t.Fatalf("err = %v, want ErrLoopDied", err)
	}
	var se *radio.SendError
	if !errors.As(err, &se) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want SendError wrapping boom", err)
	}
	if !w.Died() || w.Running() {
		t.Errorf("died=%v running=%v", w.Died(), w.Running())
	}
	for _, ch := range w.Channels() {
		if ch.State() != broadcast.Closed {
			t.Errorf("%s state = %s, want closed", ch.Profile().Name, ch.State())
		}
	}
	if err := w.AwaitRunning(context.Background()); !errors.Is(err, ErrLoopDied) {
		t.Errorf("AwaitRunning err = %v, want ErrLoopDied", err)
	}
	if got := buf.Pull(time.Time{}, 100); len(got) == 0 || got[len(got)-1].Topic != "writer/died" {
		t.Errorf("no writer/died event")
	}
}

func TestCloseFailureDoesNotMaskSendError(t *testing.T) {
	r := stub.New()
	w, err := New(Config{Interval: time.Millisecond}, r, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.SetFail("send", errors.New("send"))
	r.SetFail("close", errors.New("close"))

	if err := w.Run(context.Background()); !errors.Is(err, ErrLoopDied) {
		t.Fatalf("err = %v, want ErrLoopDied", err)
	}
}

func TestSetupFailureIsFatal(t *testing.T) {
	r := stub.New()
	r.SetFail("open", errors.New("no slot"))

	_, err := New(Config{}, r, nil, nil)
	var se *radio.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SetupError", err)
	}
	if se.Channel != 0 || se.Op != "open" {
		t.Errorf("setup error = %+v", se)
	}
}

func TestSelectedProfilesOnly(t *testing.T) {
	r := stub.New()
	w, err := New(Config{
		Interval: time.Millisecond,
		Profiles: []antplus.Profile{antplus.ProfileHeartRate, antplus.ProfileFitnessEquipment},
	}, r, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := r.Channel(0); ok {
		t.Error("power channel assigned though not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	waitFor(t, "one cycle", func() bool { return len(r.Sent()) >= 2 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	sent := r.Sent()
	if sent[0].Channel != 1 || sent[1].Channel != 3 {
		t.Errorf("channels = %d, %d, want 1, 3", sent[0].Channel, sent[1].Channel)
	}
}

func TestAwaitRunning(t *testing.T) {
	r := stub.New()
	w, err := New(Config{Interval: time.Millisecond}, r, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.AwaitRunning(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AwaitRunning before Run = %v, want deadline exceeded", err)
	}

	go w.Run(context.Background())
	if err := w.AwaitRunning(context.Background()); err != nil {
		t.Errorf("AwaitRunning = %v", err)
	}
	w.Stop()
	waitFor(t, "loop exit", func() bool { return !w.Running() })

	if err := w.Run(context.Background()); !errors.Is(err, ErrAlreadyStart) {
		t.Errorf("second Run = %v, want ErrAlreadyStart", err)
	}
}

func TestUpdateModelClamps(t *testing.T) {
	w, err := New(Config{}, stub.New(), nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.UpdateModel(telemetry.Snapshot{Power: 99999, HeartRate: -5})
	s := w.Model().Get()
	if s.Power != 2048 || s.HeartRate != 0 {
		t.Errorf("model = %v", s)
	}
}
