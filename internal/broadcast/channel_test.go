package broadcast

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"kettler-ant/internal/antplus"
	"kettler-ant/internal/events"
	"kettler-ant/internal/radio"
	"kettler-ant/internal/radio/stub"
	"kettler-ant/internal/telemetry"
)

func TestOpenSequence(t *testing.T) {
	r := stub.New()
	c := New(antplus.ProfileHeartRate, r)

	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if c.State() != Open {
		t.Errorf("state = %s, want open", c.State())
	}

	want := []string{"close:1", "assign:1", "id:1", "freq:1", "period:1", "timeout:1", "open:1"}
	if got := r.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}

	ch, ok := r.Channel(1)
	if !ok {
		t.Fatal("channel 1 not assigned")
	}
	want2 := stub.Channel{
		Network:        1,
		DeviceID:       12449,
		DeviceType:     120,
		ManufacturerID: 5,
		Frequency:      57,
		Period:         8070,
		SearchTimeout:  40,
		Open:           true,
	}
	if ch != want2 {
		t.Errorf("channel = %+v, want %+v", ch, want2)
	}
}

func TestOpenSetupError(t *testing.T) {
	r := stub.New()
	boom := errors.New("boom")
	r.SetFail("period", boom)
	c := New(antplus.ProfilePower, r)

	err := c.Open()
	var se *radio.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SetupError", err)
	}
	if se.Op != "set period" || se.Channel != 0 || !errors.Is(err, boom) {
		t.Errorf("setup error = %+v", se)
	}
	if c.State() != Assigned {
		t.Errorf("state = %s, want assigned", c.State())
	}
}

func TestPreCloseFailureIgnored(t *testing.T) {
	r := stub.New()
	// stub returns ErrNotAssigned for a never-assigned channel
	c := New(antplus.ProfileSpeed, r)
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
}

func TestBroadcastRequiresOpen(t *testing.T) {
	r := stub.New()
	c := New(antplus.ProfilePower, r)

	err := c.Broadcast(telemetry.Snapshot{Power: 100})
	if !errors.Is(err, radio.ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
	if len(r.Sent()) != 0 {
		t.Errorf("sent %d broadcasts before open", len(r.Sent()))
	}
}

func TestBroadcastSends(t *testing.T) {
	r := stub.New()
	buf := events.NewRing(16)
	c := New(antplus.ProfilePower, r, WithEvents(buf))
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	s := telemetry.Snapshot{Power: 200, Cadence: 90}
	for i := 0; i < 3; i++ {
		if err := c.Broadcast(s); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
	}

	sent := r.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sent))
	}
	if sent[2].Channel != 0 || sent[2].Data[0] != 0x10 {
		t.Errorf("last broadcast = %+v", sent[2])
	}
	if c.LastPage() != sent[2].Data {
		t.Errorf("last page = % x, want % x", c.LastPage(), sent[2].Data)
	}
	// одинаковые данные — одно событие
	if n := buf.Len(); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestBroadcastSendError(t *testing.T) {
	r := stub.New()
	c := New(antplus.ProfilePower, r)
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	boom := errors.New("usb gone")
	r.SetFail("send", boom)

	err := c.Broadcast(telemetry.Snapshot{})
	var se *radio.SendError
	if !errors.As(err, &se) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want SendError wrapping boom", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	r := stub.New()
	c := New(antplus.ProfileFitnessEquipment, r)
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	c.Close()
	c.Close()
	if c.State() != Closed {
		t.Errorf("state = %s, want closed", c.State())
	}

	closes := 0
	for _, call := range r.Calls() {
		if call == "close:3" {
			closes++
		}
	}
	// pre-close in Open + one real close
	if closes != 2 {
		t.Errorf("close calls = %d, want 2", closes)
	}
}

func TestCloseSwallowsRadioError(t *testing.T) {
	r := stub.New()
	c := New(antplus.ProfilePower, r)
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	r.SetFail("close", errors.New("stuck"))
	c.Close()
	if c.State() != Closed {
		t.Errorf("state = %s, want closed", c.State())
	}
}

func TestFEChangeDetectionPerPage(t *testing.T) {
	r := stub.New()
	buf := events.NewRing(256)
	c := New(antplus.ProfileFitnessEquipment, r, WithEvents(buf))
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	s := telemetry.Snapshot{Power: 180, Cadence: 85, HeartRate: 130, Speed: 300, Distance: 4, Energy: 20, ElapsedTime: 90}
	for i := 0; i < 100; i++ {
		if err := c.Broadcast(s); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
	}
	// одна general, одна bike
	if n := buf.Len(); n != 2 {
		t.Errorf("ant/fe events = %d, want 2", n)
	}

	s.Cadence = 90
	if err := c.Broadcast(s); err != nil {
		t.Fatal(err)
	}
	if err := c.Broadcast(s); err != nil {
		t.Fatal(err)
	}
	// только bike-страница показывает каденс
	if n := buf.Len(); n != 3 {
		t.Errorf("events after cadence change = %d, want 3", n)
	}
}

func TestPreCloseTransportErrorFailsSetup(t *testing.T) {
	r := stub.New()
	boom := errors.New("usb timeout")
	r.SetFail("close", boom)
	c := New(antplus.ProfilePower, r)

	err := c.Open()
	var se *radio.SetupError
	if !errors.As(err, &se) || se.Op != "close" || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want close SetupError wrapping boom", err)
	}
	if c.State() != Unassigned {
		t.Errorf("state = %s, want unassigned", c.State())
	}
}

type wrongStateErr struct{ code byte }

func (e wrongStateErr) Error() string    { return "response code" }
func (e wrongStateErr) WrongState() bool { return e.code == 0x15 }

func TestPreCloseWrongStateIgnored(t *testing.T) {
	r := stub.New()
	r.SetFail("close", fmt.Errorf("antusb: %w", wrongStateErr{code: 0x15}))
	c := New(antplus.ProfilePower, r)
	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
}
