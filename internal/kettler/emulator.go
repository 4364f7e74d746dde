package kettler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"kettler-ant/internal/telemetry"
)

// FormatStatus renders s the way the console answers ST. Target and real
// power are both s.Power.
func FormatStatus(s telemetry.Snapshot) string {
	return fmt.Sprintf("%03d %03d %03d %03d %03d %04d %02d:%02d %03d",
		s.HeartRate, s.Cadence, s.Speed, s.Distance, s.Power, s.Energy,
		s.ElapsedTime/60, s.ElapsedTime%60, s.Power)
}

// Serve answers ID and ST requests read from rw until ctx is done or rw
// returns EOF. status is called once per ST.
func Serve(ctx context.Context, rw io.ReadWriter, id string, status func() telemetry.Snapshot, verbose bool) error {
	buf := make([]byte, 64)
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := rw.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			cmd := strings.TrimSpace(string(pending[:i]))
			pending = pending[i+1:]

			var reply string
			switch strings.ToUpper(cmd) {
			case "ID":
				reply = id
			case "ST":
				reply = FormatStatus(status())
			case "":
				continue
			default:
				if verbose {
					log.Printf("[emu] unknown command %q", cmd)
				}
				continue
			}
			if verbose {
				log.Printf("[emu] %s -> %s", cmd, reply)
			}
			if _, werr := io.WriteString(rw, reply+"\r\n"); werr != nil {
				return fmt.Errorf("emu: write: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("emu: read: %w", err)
		}
	}
}
