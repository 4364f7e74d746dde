package kettler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"kettler-ant/internal/telemetry"
)

var (
	ErrMalformed = errors.New("kettler: malformed status line")
	ErrTimeout   = errors.New("kettler: read timeout")
)

const (
	cmdID     = "ID\r\n"
	cmdStatus = "ST\r\n"

	statusFields = 8
)

// Console speaks the console's line protocol: one command, one reply line.
type Console struct {
	mu      sync.Mutex
	port    io.ReadWriteCloser
	name    string
	timeout time.Duration
	debug   bool
	pending []byte
}

func NewConsole(port io.ReadWriteCloser, name string, timeout time.Duration, debug bool) *Console {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Console{port: port, name: name, timeout: timeout, debug: debug}
}

func (c *Console) Name() string { return c.name }

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// drain drops whatever is left from an earlier command, e.g. a reply that
// arrived after its read timed out.
func (c *Console) drain() {
	c.pending = c.pending[:0]
	if r, ok := c.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil && c.debug {
			log.Printf("[kettler] %s: reset input: %v", c.name, err)
		}
	}
}

func (c *Console) rpc(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drain()
	if _, err := c.port.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("kettler: write %q: %w", strings.TrimSpace(cmd), err)
	}
	return c.readLine()
}

// readLine reads up to '\n'. The port returns (0, nil) when its own read
// timeout expires, so the deadline is enforced here.
func (c *Console) readLine() (string, error) {
	deadline := time.Now().Add(c.timeout)
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := string(c.pending[:i])
			c.pending = c.pending[i+1:]
			return strings.TrimRight(line, "\r\n \t"), nil
		}
		if time.Now().After(deadline) {
			c.pending = c.pending[:0]
			return "", ErrTimeout
		}
		n, err := c.port.Read(buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
		}
		if err != nil {
			return "", fmt.Errorf("kettler: read: %w", err)
		}
	}
}

func (c *Console) ID() (string, error) {
	return c.rpc(cmdID)
}

// Read asks for status and parses it.
func (c *Console) Read() (telemetry.Snapshot, error) {
	line, err := c.rpc(cmdStatus)
	if err != nil {
		return telemetry.Snapshot{}, err
	}
	return ParseStatus(line, c.debug)
}

func (c *Console) Close() error {
	return c.port.Close()
}

// ParseStatus parses an ST reply:
//
//	heartRate cadence speed distance destPower energy mm:ss realPower
//	000 052 095 000 030 0001 00:12 030
//
// The snapshot carries realPower. An unreadable elapsed time becomes 0.
func ParseStatus(line string, debug bool) (telemetry.Snapshot, error) {
	seg := strings.Fields(line)
	if len(seg) != statusFields {
		return telemetry.Snapshot{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	var nums [8]int
	for _, i := range []int{0, 1, 2, 3, 4, 5, 7} {
		v, err := strconv.Atoi(seg[i])
		if err != nil {
			return telemetry.Snapshot{}, fmt.Errorf("%w: field %d %q", ErrMalformed, i, seg[i])
		}
		nums[i] = v
	}

	destPower, realPower := nums[4], nums[7]
	if debug && destPower != realPower {
		log.Printf("[kettler] difference: destPower[%d] realPower[%d]", destPower, realPower)
	}

	return telemetry.Snapshot{
		HeartRate:   nums[0],
		Cadence:     nums[1],
		Speed:       nums[2],
		Distance:    nums[3],
		Energy:      nums[5],
		ElapsedTime: parseElapsed(seg[6]),
		Power:       realPower,
	}, nil
}

func parseElapsed(s string) int {
	mm, ss, ok := strings.Cut(s, ":")
	if !ok {
		return 0
	}
	m, err1 := strconv.Atoi(mm)
	sec, err2 := strconv.Atoi(ss)
	if err1 != nil || err2 != nil {
		return 0
	}
	return m*60 + sec
}
