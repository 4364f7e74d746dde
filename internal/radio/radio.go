package radio

// Radio is the ANT radio shared by every broadcast channel. Calls are not
// expected to be concurrent: the transmit loop owns all sends.
type Radio interface {
	SetNetworkKey(network uint8, key []byte) error
	AssignChannel(channel, network uint8) error
	SetChannelID(channel uint8, deviceID uint16, deviceType, manufacturerID uint8) error
	SetChannelFrequency(channel, freq uint8) error
	SetChannelPeriod(channel uint8, period uint16) error
	SetSearchTimeout(channel, timeout uint8) error
	OpenChannel(channel uint8) error
	CloseChannel(channel uint8) error
	SendBroadcast(channel uint8, data [8]byte) error
}
