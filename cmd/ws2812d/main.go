package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/extra/devices/screen"
	"periph.io/x/host/v3"

	"github.com/coreman2200/funtimes-ws2812/internal/config"
	"github.com/coreman2200/funtimes-ws2812/internal/pwm"
	"github.com/coreman2200/funtimes-ws2812/internal/pwm/sim"
	"github.com/coreman2200/funtimes-ws2812/internal/server"
	"github.com/coreman2200/funtimes-ws2812/internal/transmit"
	"github.com/coreman2200/funtimes-ws2812/internal/ws2812"
)

func main() {
	// ---- Flags (config.yaml overrides when present) ----
	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		driver     = flag.String("driver", "", "driver: sim | spi | nrzled")
		addr       = flag.String("addr", "", "HTTP listen address")
		pattern    = flag.String("pattern", "", "pattern to run at start: index_sweep | rgb_channels | solid | off")
		preview    = flag.Bool("preview", false, "print frames to the console")
		debug      = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; using defaults")
		cfg = config.Default()
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *pattern != "" {
		cfg.Pattern = *pattern
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if _, err := host.Init(); err != nil {
		log.Warn().Err(err).Msg("periph host init failed")
	}

	timing := cfg.WireTiming()
	order, _ := ws2812.ParseChannelOrder(cfg.ColorOrder)
	lines := cfg.TransmitLines()
	lengths := make([]int, len(lines))
	total := 0
	for i, l := range lines {
		lengths[i] = l.Length
		total += l.Length
	}

	var (
		out     server.Output
		tx      *transmit.Transmitter
		closers []func() error
	)
	newTransmitter := func(hw pwm.PWM) *transmit.Transmitter {
		t, err := transmit.New(hw, transmit.Options{Lines: lines, Order: order, Timing: timing, Log: &log.Logger})
		if err != nil {
			log.Fatal().Err(err).Msg("transmitter")
		}
		return t
	}

	switch cfg.Driver {
	case "spi":
		ports := map[pwm.Channel]spi.Port{}
		for _, l := range cfg.Lines {
			p, err := spireg.Open(l.SPIDev)
			if err != nil {
				log.Fatal().Err(err).Str("dev", l.SPIDev).Int("channel", l.Channel).Msg("SPI open failed")
			}
			ports[pwm.Channel(l.Channel)] = p
		}
		hw, err := pwm.NewSPI(ports, timing, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("SPI init failed")
		}
		closers = append(closers, hw.Close)
		tx = newTransmitter(hw)

	case "nrzled":
		var d display.Drawer
		p, err := spireg.Open("")
		if err == nil {
			d, err = nrzled.NewSPI(p, &nrzled.Opts{
				NumPixels: total,
				Channels:  3,
				Freq:      timing.BitRate(),
			})
			if err != nil {
				p.Close()
			}
		}
		if err != nil {
			log.Warn().Err(err).Msg("no nrzled strip; printing at the console")
			d = screen.New(total)
		}
		closers = append(closers, d.Halt)
		out = &server.DrawerOutput{D: d}

	default:
		if cfg.Driver != "sim" {
			log.Warn().Str("driver", cfg.Driver).Msg("unknown driver; using sim")
			cfg.Driver = "sim"
		}
		chs := make([]pwm.Channel, len(lines))
		for i, l := range lines {
			chs[i] = l.Channel
		}
		hw := sim.New(chs...)
		hw.AutoComplete(timing.BitPeriod())
		tx = newTransmitter(hw)
	}

	var blank display.Drawer
	if tx != nil {
		out = tx
		if d, err := transmit.NewDrawer(tx, cfg.Driver); err != nil {
			log.Warn().Err(err).Msg("strip is not blanked on shutdown")
		} else {
			blank = d
		}
		if *preview {
			out = &consolePreview{Transmitter: tx, screen: &server.DrawerOutput{D: screen.New(total)}}
		}
	}

	state := server.NewState(out, server.Options{
		Lengths:    lengths,
		FPS:        cfg.FPS,
		Brightness: cfg.Brightness,
		Driver:     cfg.Driver,
		Log:        &log.Logger,
	})
	if cfg.Pattern != "" {
		if err := state.RunTest(cfg.Pattern); err != nil {
			log.Warn().Err(err).Msg("pattern")
		}
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.WithCORS(state.Routes()),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go state.Run(ctx)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("driver", cfg.Driver).Ints("lines", lengths).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server crashed")
		}
	}()

	// ---- Graceful shutdown ----
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	s := <-ch
	log.Info().Str("signal", s.String()).Msg("shutting down")

	cancel()
	_ = srv.Close()
	if tx != nil {
		if blank != nil {
			if err := blank.Halt(); err != nil {
				log.Warn().Err(err).Msg("blank strip")
			}
		}
		wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
		if err := tx.Wait(wctx); err != nil {
			log.Warn().Err(err).Msg("transfer still in flight")
		}
		wcancel()
		if err := tx.Close(); err != nil {
			log.Warn().Err(err).Msg("transmitter close")
		}
	}
	for _, c := range closers {
		_ = c()
	}
}

// consolePreview prints every accepted frame after handing it to the
// transmitter, keeping the transmitter's status visible to the server.
type consolePreview struct {
	*transmit.Transmitter
	screen *server.DrawerOutput
}

func (p *consolePreview) Transmit(chains ...ws2812.Chain) error {
	if err := p.Transmitter.Transmit(chains...); err != nil {
		return err
	}
	return p.screen.Transmit(chains...)
}
