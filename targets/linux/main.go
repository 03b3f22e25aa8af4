//go:build linux

// The linux target runs the bridge on an SoC whose FPGA fabric exposes the
// buffer pool and DSP registers through /dev/mem.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sdrbridge/config"
	"sdrbridge/core"
	"sdrbridge/host/logging"
	"sdrbridge/host/serial"
)

var configFile = flag.String("config", "", "Config file (default: search /opt and .)")

func main() {
	flag.Parse()
	log := logging.New("sdrbridge")

	var (
		cfg   *config.Config
		found bool
		err   error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
		found = err == nil
	} else {
		cfg, found, err = config.Load()
	}
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		log.Fatal("log level", zap.Error(err))
	}
	if !found {
		log.Info("no config file, using defaults")
	}

	regs, err := openMMIO(cfg.MMIO.Base, cfg.MMIO.Size, cfg.BoardMAC())
	if err != nil {
		log.Fatal("mmio", zap.Error(err))
	}
	defer regs.Close()

	var out io.Writer = os.Stdout
	if cfg.Console.Device != "" {
		sc := serial.DefaultConfig(cfg.Console.Device)
		sc.Baud = cfg.Console.Baud
		port, err := serial.Open(sc)
		if err != nil {
			log.Fatal("console", zap.Error(err))
		}
		defer port.Close()
		out = port
	}

	opts := cfg.FirmwareOptions()
	opts.Clock = regs.Time
	opts.Console = func(s string) { _, _ = io.WriteString(out, s) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fw := core.New(regs.drivers(), opts)
	log.Info("bridge up",
		zap.Stringer("mac", fw.HardwareAddr()),
		zap.Uint64("mmio", cfg.MMIO.Base))
	if err := fw.Run(ctx); err != nil && err != context.Canceled {
		log.Error("run", zap.Error(err))
	}
	fw.StopRx()
	fw.DumpFaults()
}
