package antusb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/gousb"

	"kettler-ant/internal/radio"
)

// Known ANT USB sticks (Dynastream).
const (
	VendorDynastream gousb.ID = 0x0fcf
	ProductANTUSB2   gousb.ID = 0x1008
	ProductANTUSBm   gousb.ID = 0x1009
)

type Config struct {
	VID             gousb.ID
	PID             gousb.ID
	ResponseTimeout time.Duration
	Debug           bool
}

type inEndpoint interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

// Radio talks to an ANT chip over USB bulk endpoints. Commands are
// serialised and wait for the chip's channel response; broadcasts are plain
// writes.
type Radio struct {
	mu      sync.Mutex
	out     io.Writer
	in      inEndpoint
	timeout time.Duration
	debug   bool

	resp    chan channelResponse
	cancel  context.CancelFunc
	done    chan struct{}
	release func()
	closed  bool
}

// Open finds the stick, claims interface 0 and resets the chip.
func Open(cfg Config) (*Radio, error) {
	if cfg.VID == 0 {
		cfg.VID = VendorDynastream
	}
	if cfg.PID == 0 {
		cfg.PID = ProductANTUSBm
	}

	usb := gousb.NewContext()
	dev, err := usb.OpenDeviceWithVIDPID(cfg.VID, cfg.PID)
	if err != nil {
		usb.Close()
		return nil, fmt.Errorf("antusb: open %s:%s: %w", cfg.VID, cfg.PID, err)
	}
	if dev == nil {
		usb.Close()
		return nil, fmt.Errorf("antusb: no device %s:%s", cfg.VID, cfg.PID)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		log.Printf("[antusb] autodetach: %v", err)
	}

	usbCfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("antusb: config 1: %w", err)
	}
	intf, err := usbCfg.Interface(0, 0)
	if err != nil {
		usbCfg.Close()
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("antusb: interface 0: %w", err)
	}
	inep, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		usbCfg.Close()
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("antusb: in endpoint: %w", err)
	}
	outep, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		usbCfg.Close()
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("antusb: out endpoint: %w", err)
	}

	r := newRadio(outep, inep, cfg.ResponseTimeout, cfg.Debug)
	r.release = func() {
		intf.Close()
		_ = usbCfg.Close()
		_ = dev.Close()
		_ = usb.Close()
	}

	if err := r.reset(); err != nil {
		r.Close()
		return nil, err
	}
	log.Printf("[antusb] device %s:%s ready", cfg.VID, cfg.PID)
	return r, nil
}

func newRadio(out io.Writer, in inEndpoint, timeout time.Duration, debug bool) *Radio {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Radio{
		out:     out,
		in:      in,
		timeout: timeout,
		debug:   debug,
		resp:    make(chan channelResponse, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.readLoop(ctx)
	return r
}

func (r *Radio) reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(encode(msgResetSystem, 0)); err != nil {
		return fmt.Errorf("antusb: reset: %w", err)
	}
	// чипу нужно время на перезапуск
	time.Sleep(500 * time.Millisecond)
	r.drain()
	return nil
}

func (r *Radio) readLoop(ctx context.Context) {
	defer close(r.done)
	buf := make([]byte, 64)
	var pending []byte
	for {
		n, err := r.in.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		pending = append(pending, buf[:n]...)
		for {
			m, rest, err := decode(pending)
			pending = rest
			if errors.Is(err, errShortFrame) {
				break
			}
			if err != nil {
				log.Printf("[antusb] %v", err)
				continue
			}
			r.dispatch(m)
		}
	}
}

func (r *Radio) dispatch(m message) {
	if m.id == msgStartup {
		if r.debug {
			log.Printf("[antusb] startup message % x", m.data)
		}
		return
	}
	cr, ok := m.response()
	if !ok {
		return
	}
	if cr.msgID == eventMessageIDMarker {
		// RF event (EVENT_TX и т.п.) — не ответ на команду
		if r.debug && cr.code != 0x03 {
			log.Printf("[antusb] channel %d event %#x", cr.channel, cr.code)
		}
		return
	}
	select {
	case r.resp <- cr:
	default:
		log.Printf("[antusb] response queue full, dropped %#x", cr.msgID)
	}
}

func (r *Radio) drain() {
	for {
		select {
		case <-r.resp:
		default:
			return
		}
	}
}

// command writes one message and waits for its channel response.
func (r *Radio) command(channel, id byte, data ...byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return radio.ErrClosed
	}

	r.drain()
	if _, err := r.out.Write(encode(id, data...)); err != nil {
		return fmt.Errorf("antusb: write %#x: %w", id, err)
	}

	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	for {
		select {
		case cr := <-r.resp:
			if cr.channel != channel || cr.msgID != id {
				continue
			}
			if cr.code != responseNoError {
				return &ResponseError{Channel: cr.channel, MsgID: cr.msgID, Code: cr.code}
			}
			if r.debug {
				log.Printf("[antusb] channel %d msg %#x ok", channel, id)
			}
			return nil
		case <-deadline.C:
			return fmt.Errorf("antusb: no response to %#x on channel %d after %s", id, channel, r.timeout)
		case <-r.done:
			return radio.ErrClosed
		}
	}
}

func (r *Radio) SetNetworkKey(network uint8, key []byte) error {
	if len(key) != 8 {
		return fmt.Errorf("antusb: network key must be 8 bytes, got %d", len(key))
	}
	return r.command(network, msgNetworkKey, append([]byte{network}, key...)...)
}

func (r *Radio) AssignChannel(channel, network uint8) error {
	return r.command(channel, msgAssignChannel, channel, channelTypeTransmit, network)
}

func (r *Radio) SetChannelID(channel uint8, deviceID uint16, deviceType, manufacturerID uint8) error {
	return r.command(channel, msgChannelID, channel, byte(deviceID), byte(deviceID>>8), deviceType, manufacturerID)
}

func (r *Radio) SetChannelFrequency(channel, freq uint8) error {
	return r.command(channel, msgChannelFreq, channel, freq)
}

func (r *Radio) SetChannelPeriod(channel uint8, period uint16) error {
	return r.command(channel, msgChannelPeriod, channel, byte(period), byte(period>>8))
}

func (r *Radio) SetSearchTimeout(channel, timeout uint8) error {
	return r.command(channel, msgSearchTimeout, channel, timeout)
}

func (r *Radio) OpenChannel(channel uint8) error {
	return r.command(channel, msgOpenChannel, channel)
}

func (r *Radio) CloseChannel(channel uint8) error {
	return r.command(channel, msgCloseChannel, channel)
}

// SendBroadcast queues data for the channel's next timeslot. The chip sends
// no response to broadcast data, so the USB write is the acknowledgement.
func (r *Radio) SendBroadcast(channel uint8, data [8]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return radio.ErrClosed
	}
	payload := append([]byte{channel}, data[:]...)
	if _, err := r.out.Write(encode(msgBroadcastData, payload...)); err != nil {
		return fmt.Errorf("antusb: broadcast on channel %d: %w", channel, err)
	}
	return nil
}

// Close stops the reader and releases the USB device.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	<-r.done
	if r.release != nil {
		r.release()
	}
	return nil
}
