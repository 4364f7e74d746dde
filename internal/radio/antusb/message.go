package antusb

import (
	"errors"
	"fmt"
)

const syncByte = 0xA4

// Message IDs (host -> ANT and ANT -> host).
const (
	msgChannelEvent    byte = 0x40
	msgUnassignChannel byte = 0x41
	msgAssignChannel   byte = 0x42
	msgChannelPeriod   byte = 0x43
	msgSearchTimeout   byte = 0x44
	msgChannelFreq     byte = 0x45
	msgNetworkKey      byte = 0x46
	msgResetSystem     byte = 0x4A
	msgOpenChannel     byte = 0x4B
	msgCloseChannel    byte = 0x4C
	msgBroadcastData   byte = 0x4E
	msgChannelID       byte = 0x51
	msgStartup         byte = 0x6F
)

// Channel type: bidirectional transmit (master).
const channelTypeTransmit byte = 0x10

const (
	responseNoError      byte = 0x00
	eventChannelClosed   byte = 0x07
	channelInWrongState  byte = 0x15
	channelNotOpened     byte = 0x16
	eventMessageIDMarker byte = 0x01 // msg id byte of an RF event
)

// ANT+ public network key.
var AntPlusNetworkKey = []byte{0xB9, 0xA5, 0x21, 0xFB, 0xBD, 0x72, 0xC3, 0x45}

var errShortFrame = errors.New("antusb: short frame")

type message struct {
	id   byte
	data []byte
}

// encode builds SYNC | LEN | ID | DATA | CHECKSUM.
func encode(id byte, data ...byte) []byte {
	b := make([]byte, 0, len(data)+4)
	b = append(b, syncByte, byte(len(data)), id)
	b = append(b, data...)
	var sum byte
	for _, c := range b {
		sum ^= c
	}
	return append(b, sum)
}

// decode pulls the first complete message out of buf. Garbage before a sync
// byte is skipped. It returns the unconsumed rest.
func decode(buf []byte) (message, []byte, error) {
	for len(buf) > 0 && buf[0] != syncByte {
		buf = buf[1:]
	}
	if len(buf) < 4 {
		return message{}, buf, errShortFrame
	}
	n := int(buf[1])
	if len(buf) < n+4 {
		return message{}, buf, errShortFrame
	}
	frame := buf[:n+4]
	var sum byte
	for _, c := range frame[:n+3] {
		sum ^= c
	}
	if sum != frame[n+3] {
		// битый кадр — пропускаем sync и ищем следующий
		return message{}, buf[1:], fmt.Errorf("antusb: bad checksum %#x, want %#x", frame[n+3], sum)
	}
	data := make([]byte, n)
	copy(data, frame[3:n+3])
	return message{id: frame[2], data: data}, buf[n+4:], nil
}

// channelResponse is a decoded 0x40 message.
type channelResponse struct {
	channel byte
	msgID   byte
	code    byte
}

func (m message) response() (channelResponse, bool) {
	if m.id != msgChannelEvent || len(m.data) < 3 {
		return channelResponse{}, false
	}
	return channelResponse{channel: m.data[0], msgID: m.data[1], code: m.data[2]}, true
}

// ResponseError is a non-zero response code from the ANT chip.
type ResponseError struct {
	Channel byte
	MsgID   byte
	Code    byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("antusb: channel %d msg %#x: response code %#x", e.Channel, e.MsgID, e.Code)
}

// WrongState reports whether the chip rejected the command because of the
// channel state, e.g. closing a channel that was never opened.
func (e *ResponseError) WrongState() bool {
	return e.Code == channelInWrongState || e.Code == channelNotOpened
}
