package config

import (
	"time"
)

func Defaults() *Config {
	return &Config{
		Debug: false,

		ANT: ANTConfig{
			VID:              0x0fcf,
			PID:              0x1009,
			Profiles:         []string{"power", "hr", "speed", "fe"},
			TransmitInterval: 250 * time.Millisecond,
			SettleDelay:      0,
			ResponseTimeout:  500 * time.Millisecond,
		},

		Kettler: KettlerConfig{
			Mode:         "usb",
			ReadTimeout:  time.Second,
			PollInterval: 250 * time.Millisecond,
		},

		Web: WebConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     8080,
			MaxConns: 16,
		},
	}
}
