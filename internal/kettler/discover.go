package kettler

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

type Mode string

const (
	ModeUSB       Mode = "usb"
	ModeBluetooth Mode = "bluetooth"
	ModeSerial    Mode = "serial"
)

const (
	DefaultUSBBaud       = 57600
	DefaultBluetoothBaud = 9600
)

var ErrNotFound = errors.New("kettler: no console found")

type Options struct {
	Mode    Mode
	Device  string // fixed port; skips discovery
	Baud    int
	Timeout time.Duration
	Debug   bool
}

func (o Options) baud() int {
	if o.Baud > 0 {
		return o.Baud
	}
	if o.Mode == ModeBluetooth {
		return DefaultBluetoothBaud
	}
	return DefaultUSBBaud
}

// Open connects to the console. With a fixed Device it only checks that the
// console answers ID; otherwise it probes candidate ports in order.
func Open(opts Options) (*Console, error) {
	if opts.Device != "" {
		return probe(opts.Device, opts)
	}

	candidates, err := candidatePorts(opts.Mode)
	if err != nil {
		return nil, err
	}
	log.Printf("[kettler] looking for %s console, %d candidates", opts.Mode, len(candidates))

	for _, name := range candidates {
		log.Printf("[kettler] trying [%s]...", name)
		c, err := probe(name, opts)
		if err != nil {
			log.Printf("[kettler] failed to connect to [%s]: %v", name, err)
			continue
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w (%s)", ErrNotFound, opts.Mode)
}

func probe(name string, opts Options) (*Console, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: opts.baud(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("kettler: open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("kettler: set timeout on %s: %w", name, err)
	}
	_ = port.ResetInputBuffer()

	c := NewConsole(port, name, opts.Timeout, opts.Debug)
	id, err := c.ID()
	if err != nil {
		c.Close()
		return nil, err
	}
	if id == "" {
		c.Close()
		return nil, fmt.Errorf("kettler: %s: empty ID reply", name)
	}
	log.Printf("[kettler] connected to [%s] at [%s]", id, name)
	return c, nil
}

// candidatePorts returns ports whose description matches the mode, or every
// port when nothing matches.
func candidatePorts(mode Mode) ([]string, error) {
	var keys []string
	switch mode {
	case ModeBluetooth:
		keys = []string{"KETTLER", "BLUETOOTH"}
	case ModeUSB:
		keys = []string{"USB", "SERIAL"}
	}

	var matched []string
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.Printf("[kettler] port details unavailable: %v", err)
	}
	for _, d := range details {
		if matchPort(describePort(d), keys) {
			matched = append(matched, d.Name)
		}
	}
	if len(matched) > 0 {
		return matched, nil
	}

	all, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("kettler: list ports: %w", err)
	}
	return all, nil
}

func describePort(d *enumerator.PortDetails) string {
	s := d.Name + " " + d.Product
	if d.IsUSB {
		s += fmt.Sprintf(" USB VID:PID=%s:%s SER=%s", d.VID, d.PID, d.SerialNumber)
	}
	return s
}

func matchPort(info string, keys []string) bool {
	info = strings.ToUpper(info)
	for _, k := range keys {
		if strings.Contains(info, k) {
			return true
		}
	}
	return false
}
