// u2sim runs the bridge firmware against the simulated board and drives it
// from an interactive prompt, playing the part of the host.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/netstack/tcpip"
	"github.com/google/shlex"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sdrbridge/config"
	"sdrbridge/core"
	"sdrbridge/host/console"
	"sdrbridge/host/ctrl"
	"sdrbridge/host/logging"
	"sdrbridge/targets/sim"
)

var (
	configFile = flag.String("config", "", "Config file (default: search /opt and .)")
	logLevel   = flag.String("log", "", "Log level, overrides log.level")
)

func main() {
	flag.Parse()
	log := logging.New("u2sim")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	if err := logging.SetLevel(level); err != nil {
		log.Fatal("log level", zap.String("level", level), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, log); err != nil && err != context.Canceled {
		log.Fatal("u2sim", zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	if *configFile != "" {
		return config.LoadFile(*configFile)
	}
	cfg, _, err := config.Load()
	return cfg, err
}

// bench owns the board and firmware. Only the loop goroutine touches them;
// everything else hands it closures.
type bench struct {
	board  *sim.Board
	fw     *core.Firmware
	client *ctrl.Client
	log    *zap.Logger

	jobs chan func()

	dataFrames int
	lastSeqno  uint8
	seqGaps    int
	dict       ctrl.DictionaryAssembler
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, log *zap.Logger) error {
	board := sim.New(
		sim.WithMAC(cfg.BoardMAC()),
		sim.WithTicksPerFrame(cfg.Sim.TicksPerFrame),
		sim.WithFramePeriod(cfg.Sim.FramePeriod),
	)

	pr, pw := io.Pipe()
	opts := cfg.FirmwareOptions()
	opts.Clock = board.Time
	opts.Console = func(s string) { _, _ = pw.Write([]byte(s)) }

	events := make(chan console.Event, 16)
	g, ctx := errgroup.WithContext(ctx)

	// The firmware logs its boot banner from New, so the console reader
	// has to be running first.
	dec := console.NewDecoder(log.Named("console"))
	g.Go(func() error {
		defer close(events)
		// Unblocks a firmware write once nobody is reading.
		defer pr.Close()
		return dec.Run(ctx, pr, events)
	})
	g.Go(func() error {
		clog := log.Named("bridge")
		for e := range events {
			console.Log(clog, e)
		}
		return nil
	})

	host := cfg.HostMAC()
	b := &bench{
		board: board,
		fw:    core.New(board.Drivers(), opts),
		log:   log,
		jobs:  make(chan func(), 8),
	}
	b.client = ctrl.NewClient(tcpip.LinkAddress(host[:]), b.fw.HardwareAddr())

	period := time.Duration(cfg.Sim.TickMicros) * time.Microsecond
	g.Go(func() error {
		defer pw.Close()
		return b.loop(ctx, period)
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	g.Go(func() error {
		return b.repl(ctx, lines)
	})

	return g.Wait()
}

func (b *bench) loop(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-b.jobs:
			job()
		case <-ticker.C:
			b.step()
		}
	}
}

// step advances the board one tick and the firmware one poll.
func (b *bench) step() {
	b.board.Tick()
	b.fw.Poll()
	for _, frame := range b.board.TakeFrames() {
		if ctrl.IsControl(frame) {
			b.handleControl(frame)
			continue
		}
		df, err := ctrl.ParseData(frame)
		if err != nil {
			b.log.Warn("bad data frame", zap.Error(err))
			continue
		}
		if b.dataFrames > 0 && df.Seqno != b.lastSeqno+1 {
			b.seqGaps++
		}
		b.lastSeqno = df.Seqno
		b.dataFrames++
	}
	// Transmitted samples leave through the DSP; nothing consumes them.
	b.board.TakeDSPFrames()
}

func (b *bench) handleControl(frame []byte) {
	msgs, err := ctrl.ParseControl(frame)
	if err != nil {
		b.log.Warn("bad control frame", zap.Error(err))
	}
	for _, m := range msgs {
		switch {
		case m.Status != nil:
			s := m.Status
			b.log.Info("status",
				zap.Bool("streaming", s.Streaming),
				zap.Bool("faulted", s.Faulted),
				zap.Uint32("items", s.ItemsPerFrame),
				zap.Uint32("seqno", s.Seqno),
				zap.Uint32("overruns", s.Overruns),
				zap.Uint32("underruns", s.Underruns),
				zap.Uint32("faults", s.Faults),
				zap.Int("frames", b.dataFrames),
				zap.Int("gaps", b.seqGaps))
		case m.Fault != nil:
			f := m.Fault
			b.log.Warn("fault report",
				zap.Stringer("kind", f.Kind),
				zap.Stringer("dir", f.Dir),
				zap.Int("buf", f.Buffer),
				zap.Uint32("clock", f.Clock))
		case m.Dictionary != nil:
			b.addDictionaryChunk(m.Dictionary)
		}
	}
}

func (b *bench) addDictionaryChunk(chunk *ctrl.Dictionary) {
	done, err := b.dict.Add(chunk)
	if err != nil {
		b.log.Warn("dictionary", zap.Error(err))
		b.dict = ctrl.DictionaryAssembler{}
		return
	}
	if !done {
		b.board.SendFrame(b.client.GetDictionary(b.dict.Next()))
		return
	}
	d, err := b.dict.Decode()
	b.dict = ctrl.DictionaryAssembler{}
	if err != nil {
		b.log.Warn("dictionary", zap.Error(err))
		return
	}
	fmt.Printf("version %s\n", d.Version)
	for k, v := range d.Config {
		fmt.Printf("  %s = %s\n", k, v)
	}
	for k, v := range d.Commands {
		fmt.Printf("  cmd %2d  %s\n", v, k)
	}
	for k, v := range d.Responses {
		fmt.Printf("  resp %2d %s\n", v, k)
	}
}

func (b *bench) repl(ctx context.Context, lines <-chan string) error {
	printHelp()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return context.Canceled
			}
			args, err := shlex.Split(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			if len(args) == 0 {
				continue
			}
			if args[0] == "quit" || args[0] == "exit" || args[0] == "q" {
				return context.Canceled
			}
			job, err := b.command(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			select {
			case b.jobs <- job:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// command turns one prompt line into a job for the loop goroutine.
func (b *bench) command(args []string) (func(), error) {
	uints := func(need int) ([]uint32, error) {
		if len(args)-1 < need {
			return nil, fmt.Errorf("%s needs %d argument(s)", args[0], need)
		}
		v := make([]uint32, len(args)-1)
		for i, a := range args[1:] {
			n, err := strconv.ParseUint(a, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a, err)
			}
			v[i] = uint32(n)
		}
		return v, nil
	}
	// Frames are built in the loop goroutine, which owns the client's
	// sequence counter.
	send := func(build func() []byte) func() {
		return func() { b.board.SendFrame(build()) }
	}

	switch args[0] {
	case "help", "?":
		printHelp()
		return func() {}, nil
	case "start":
		v, err := uints(1)
		if err != nil {
			return nil, err
		}
		at := core.Now
		if len(v) >= 3 {
			at = core.StartTime{Secs: v[1], Ticks: v[2]}
		}
		return func() {
			b.dataFrames, b.seqGaps = 0, 0
			b.board.SendFrame(b.client.StartRxStreaming(v[0], at))
		}, nil
	case "stop":
		return send(b.client.StopRx), nil
	case "restart":
		return send(b.client.RestartRx), nil
	case "clear":
		return send(b.client.ClearFault), nil
	case "status":
		return send(b.client.GetStatus), nil
	case "dict":
		return func() {
			b.dict = ctrl.DictionaryAssembler{}
			b.board.SendFrame(b.client.GetDictionary(0))
		}, nil
	case "faults":
		return b.fw.DumpFaults, nil
	case "underrun":
		return b.board.InjectUnderrun, nil
	case "overrun":
		return b.board.InjectOverrun, nil
	case "berr":
		v, err := uints(1)
		if err != nil {
			return nil, err
		}
		return func() { b.board.InjectBufferError(int(v[0])) }, nil
	case "stall":
		return func() { b.board.StallETH(true) }, nil
	case "unstall":
		return func() { b.board.StallETH(false) }, nil
	case "run":
		v, err := uints(1)
		if err != nil {
			return nil, err
		}
		return func() {
			for i := uint32(0); i < v[0]; i++ {
				b.step()
			}
		}, nil
	}
	return nil, fmt.Errorf("unknown command: %s (type 'help' for available commands)", args[0])
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  start ITEMS [SECS TICKS] - Start Rx streaming, now or at a time")
	fmt.Println("  stop                     - Stop Rx streaming")
	fmt.Println("  restart                  - Restart the current session")
	fmt.Println("  clear                    - Clear the fault log")
	fmt.Println("  status                   - Request bridge status")
	fmt.Println("  dict                     - Fetch the command dictionary")
	fmt.Println("  faults                   - Dump the fault log to the console")
	fmt.Println("  underrun | overrun       - Inject a DSP fault")
	fmt.Println("  berr BUF                 - Inject a buffer error")
	fmt.Println("  stall | unstall          - Hold or release the Ethernet port")
	fmt.Println("  run N                    - Step N ticks at once")
	fmt.Println("  quit/exit/q              - Exit the program")
	fmt.Println()
}
