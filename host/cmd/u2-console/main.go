// u2-console follows the bridge's debug console on a serial port and logs
// boot banners, control diagnostics and fault reports.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sdrbridge/config"
	"sdrbridge/core"
	"sdrbridge/host/console"
	"sdrbridge/host/logging"
	"sdrbridge/host/serial"
)

var (
	configFile = flag.String("config", "", "Config file (default: search /opt and .)")
	device     = flag.String("device", "", "Serial device path, overrides console.device")
	baud       = flag.Int("baud", 0, "Baud rate, overrides console.baud")
	verbose    = flag.Bool("verbose", false, "Enable debug output")
)

func main() {
	flag.Parse()
	log := logging.New("u2-console")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		log.Fatal("log level", zap.Error(err))
	}

	sc := serial.DefaultConfig(cfg.Console.Device)
	sc.Baud = cfg.Console.Baud
	if *device != "" {
		sc.Device = *device
	}
	if *baud != 0 {
		sc.Baud = *baud
	}
	if sc.Device == "" {
		log.Fatal("no console device; set console.device or -device")
	}
	// Block in Read; closing the port is what stops the reader.
	sc.ReadTimeout = 0

	port, err := serial.Open(sc)
	if err != nil {
		log.Fatal("open", zap.Error(err))
	}
	log.Info("following console", zap.String("device", sc.Device), zap.Int("baud", sc.Baud))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	faults, err := follow(ctx, port, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("console", zap.Error(err))
	}
	for k, n := range faults {
		log.Info("fault summary", zap.Stringer("kind", k), zap.Int("count", n))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configFile != "" {
		return config.LoadFile(*configFile)
	}
	cfg, _, err := config.Load()
	return cfg, err
}

// follow decodes port until ctx is done or the port fails, and returns how
// many faults of each kind it saw.
func follow(ctx context.Context, port serial.Port, log *zap.Logger) (map[core.FaultKind]int, error) {
	if err := port.Flush(); err != nil {
		log.Debug("flush", zap.Error(err))
	}

	events := make(chan console.Event, 16)
	faults := make(map[core.FaultKind]int)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return port.Close()
	})
	g.Go(func() error {
		defer close(events)
		err := console.NewDecoder(log.Named("decoder")).Run(ctx, port, events)
		if ctx.Err() != nil {
			// Read fails once the port is closed underneath it.
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("console closed")
		}
		return err
	})
	g.Go(func() error {
		blog := log.Named("bridge")
		for e := range events {
			if e.Kind == console.KindFault {
				faults[e.Fault.Kind]++
			}
			console.Log(blog, e)
		}
		return nil
	})

	err := g.Wait()
	return faults, err
}
