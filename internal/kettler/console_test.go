package kettler

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"kettler-ant/internal/telemetry"
)

// fakePort answers commands from a script.
type fakePort struct {
	mu      sync.Mutex
	replies map[string][]string
	out     []byte
	closed  bool
	readErr error
	resets  int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := string(b)
	if q := p.replies[cmd]; len(q) > 0 {
		p.out = append(p.out, q[0]...)
		if len(q) > 1 {
			p.replies[cmd] = q[1:]
		}
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.out) == 0 {
		return 0, nil
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	return n, nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.out = p.out[:0]
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name string
		line string
		want telemetry.Snapshot
	}{
		{
			name: "console sample",
			line: "000 052 095 000 030 0001 00:12 030",
			want: telemetry.Snapshot{HeartRate: 0, Cadence: 52, Speed: 95, Distance: 0, Energy: 1, ElapsedTime: 12, Power: 30},
		},
		{
			name: "real power differs from target",
			line: "140 090 250 005 200 0050 02:00 195",
			want: telemetry.Snapshot{HeartRate: 140, Cadence: 90, Speed: 250, Distance: 5, Energy: 50, ElapsedTime: 120, Power: 195},
		},
		{
			name: "bad elapsed time",
			line: "100 080 200 001 100 0010 xx:yy 100",
			want: telemetry.Snapshot{HeartRate: 100, Cadence: 80, Speed: 200, Distance: 1, Energy: 10, ElapsedTime: 0, Power: 100},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus(tt.line, true)
			if err != nil {
				t.Fatalf("ParseStatus: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseStatusMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"000 052 095",
		"000 052 095 000 030 0001 00:12 030 999",
		"abc 052 095 000 030 0001 00:12 030",
	} {
		if _, err := ParseStatus(line, false); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseStatus(%q) err = %v, want ErrMalformed", line, err)
		}
	}
}

func TestConsoleRPC(t *testing.T) {
	port := &fakePort{replies: map[string][]string{
		"ID\r\n": {"SX1\r\n"},
		"ST\r\n": {"120 085 300 012 150 0100 10:30 148\r\n"},
	}}
	c := NewConsole(port, "fake", 100*time.Millisecond, false)

	id, err := c.ID()
	if err != nil || id != "SX1" {
		t.Fatalf("ID = %q, %v", id, err)
	}

	s, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := telemetry.Snapshot{HeartRate: 120, Cadence: 85, Speed: 300, Distance: 12, Energy: 100, ElapsedTime: 630, Power: 148}
	if s != want {
		t.Errorf("Read = %v, want %v", s, want)
	}

	if err := c.Close(); err != nil || !port.closed {
		t.Errorf("close: %v closed=%v", err, port.closed)
	}
}

func TestConsoleSplitReply(t *testing.T) {
	port := &fakePort{replies: map[string][]string{
		"ST\r\n": {"120 085 300 012 150 0100 10:30 148\r\n120 085"},
	}}
	c := NewConsole(port, "fake", 100*time.Millisecond, false)
	if _, err := c.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.HasPrefix(string(c.pending), "120 085") {
		t.Errorf("pending = %q", c.pending)
	}
}

func TestConsoleTimeout(t *testing.T) {
	port := &fakePort{replies: map[string][]string{}}
	c := NewConsole(port, "fake", 20*time.Millisecond, false)
	if _, err := c.ID(); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestConsoleReadError(t *testing.T) {
	port := &fakePort{replies: map[string][]string{}, readErr: io.ErrUnexpectedEOF}
	c := NewConsole(port, "fake", 20*time.Millisecond, false)
	if _, err := c.Read(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want unexpected EOF", err)
	}
}

func TestMatchPort(t *testing.T) {
	tests := []struct {
		info string
		keys []string
		want bool
	}{
		{"/dev/ttyUSB0 FT232R USB UART", []string{"USB", "SERIAL"}, true},
		{"/dev/rfcomm0 Kettler SX1", []string{"KETTLER", "BLUETOOTH"}, true},
		{"/dev/ttyS0", []string{"USB", "SERIAL"}, false},
		{"/dev/ttyS0", nil, false},
	}
	for _, tt := range tests {
		if got := matchPort(tt.info, tt.keys); got != tt.want {
			t.Errorf("matchPort(%q) = %v, want %v", tt.info, got, tt.want)
		}
	}
}

func TestConsoleDropsLateReply(t *testing.T) {
	p := &fakePort{replies: map[string][]string{
		"ST\r\n": {"000 052 095 000 030 0001 00:12 030\r\n"},
	}}
	// ответ на ID, пришедший после таймаута
	p.out = []byte("KETTLER-ID\r\n")
	c := NewConsole(p, "fake", 0, false)
	c.pending = []byte("half a li")

	s, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Cadence != 52 || s.Power != 30 {
		t.Errorf("snapshot = %v", s)
	}
	if p.resets != 1 {
		t.Errorf("resets = %d, want 1", p.resets)
	}
}
