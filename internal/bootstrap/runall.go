package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/gousb"

	"kettler-ant/internal/antplus"
	"kettler-ant/internal/config"
	"kettler-ant/internal/events"
	"kettler-ant/internal/kettler"
	"kettler-ant/internal/radio"
	"kettler-ant/internal/radio/antusb"
	"kettler-ant/internal/radio/stub"
	"kettler-ant/internal/source"
	"kettler-ant/internal/web"
	"kettler-ant/internal/writer"
)

// RunAll brings up the radio, the broadcast channels and the console, then
// runs until ctx is done or something fails. Setup failures are returned
// before anything starts transmitting.
func RunAll(ctx context.Context, cfg *config.Config) error {
	key, err := cfg.ANT.Key()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if key == nil {
		key = antusb.AntPlusNetworkKey
	}

	evbuf := events.NewRing(1024)

	r, closeRadio, err := openRadio(cfg)
	if err != nil {
		return err
	}
	defer closeRadio()

	if err := r.SetNetworkKey(antplus.Network, key); err != nil {
		return &radio.SetupError{Channel: antplus.Network, Op: "set network key", Err: err}
	}

	w, err := writer.New(writer.Config{
		Interval:    cfg.ANT.TransmitInterval,
		SettleDelay: cfg.ANT.SettleDelay,
		Profiles:    SelectProfiles(cfg.ANT.Profiles),
		Debug:       cfg.Debug,
	}, r, nil, evbuf)
	if err != nil {
		return err
	}

	src, err := source.Open(kettler.Options{
		Mode:    kettler.Mode(cfg.Kettler.Mode),
		Device:  cfg.Kettler.Device,
		Baud:    cfg.Kettler.Baud,
		Timeout: cfg.Kettler.ReadTimeout,
		Debug:   cfg.Debug,
	})
	if err != nil {
		w.Close()
		return err
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if cfg.Web.Enabled {
		srv := web.New(cfg.Web, w, evbuf)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				log.Printf("[web] %v", err)
			}
		}()
	} else {
		log.Printf("[web] disabled")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := source.Poll(ctx, src, w, cfg.Kettler.PollInterval, evbuf)
		if err != nil && ctx.Err() == nil {
			errCh <- err
			// без данных с консоли вещать нечего
			w.Stop()
			cancel()
		}
	}()

	runErr := w.Run(ctx)
	cancel()
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	select {
	case err := <-errCh:
		return err
	default:
	}
	return nil
}

// dryRunHistory is how many broadcasts the stub radio keeps in a dry run.
const dryRunHistory = 64

func openRadio(cfg *config.Config) (radio.Radio, func(), error) {
	if cfg.ANT.DryRun {
		log.Printf("[ant] dry run: broadcasts stay in memory")
		return stub.NewBounded(dryRunHistory), func() {}, nil
	}
	r, err := antusb.Open(antusb.Config{
		VID:             gousb.ID(cfg.ANT.VID),
		PID:             gousb.ID(cfg.ANT.PID),
		ResponseTimeout: cfg.ANT.ResponseTimeout,
		Debug:           cfg.Debug,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ant: %w", err)
	}
	return r, func() {
		if err := r.Close(); err != nil {
			log.Printf("[ant] close radio: %v", err)
		}
	}, nil
}

// SelectProfiles keeps the fixed transmit order (power, hr, speed, fe)
// whatever order names come in. Empty means all.
func SelectProfiles(names []string) []antplus.Profile {
	all := antplus.Profiles()
	if len(names) == 0 {
		return all
	}
	want := map[string]bool{}
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	out := make([]antplus.Profile, 0, len(all))
	for _, p := range all {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
