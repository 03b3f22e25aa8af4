// Package config loads sdrbridge.toml. All code that touches viper lives
// here.
package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/spf13/viper"

	"sdrbridge/core"
)

// Name is the config file name without extension.
const Name = "sdrbridge"

// SearchPaths are tried in order: the top of the SD card on the bridge
// image, then the working directory.
var SearchPaths = []string{"/opt", "."}

type Config struct {
	Board   BoardConfig   `mapstructure:"board"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Tx      TxConfig      `mapstructure:"tx"`
	Console ConsoleConfig `mapstructure:"console"`
	Sim     SimConfig     `mapstructure:"sim"`
	MMIO    MMIOConfig    `mapstructure:"mmio"`
	Log     LogConfig     `mapstructure:"log"`
}

type BoardConfig struct {
	MAC string `mapstructure:"mac"`
}

type StreamConfig struct {
	FramesPerCmd int  `mapstructure:"frames_per_cmd"`
	Seqno        bool `mapstructure:"seqno"`
}

type TxConfig struct {
	ScaleIQ uint32 `mapstructure:"scale_iq"`
	Interp  uint32 `mapstructure:"interp"`
}

type ConsoleConfig struct {
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
}

type SimConfig struct {
	TicksPerFrame uint64 `mapstructure:"ticks_per_frame"`
	FramePeriod   int    `mapstructure:"frame_period"`
	HostMAC       string `mapstructure:"host_mac"`
	// TickMicros paces the simulator's free-running loop.
	TickMicros int `mapstructure:"tick_us"`
}

type MMIOConfig struct {
	Base uint64 `mapstructure:"base"`
	Size int    `mapstructure:"size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var ErrBadMAC = errors.New("bad MAC address")

func setDefaults(v *viper.Viper) {
	v.SetDefault("board.mac", "00:50:c2:85:3f:ff")
	v.SetDefault("stream.frames_per_cmd", core.DefaultFramesPerCmd)
	v.SetDefault("stream.seqno", true)
	v.SetDefault("tx.scale_iq", 256)
	v.SetDefault("tx.interp", 32)
	v.SetDefault("console.baud", 230400)
	v.SetDefault("sim.ticks_per_frame", 1000)
	v.SetDefault("sim.frame_period", 2)
	v.SetDefault("sim.host_mac", "02:00:00:00:00:01")
	v.SetDefault("sim.tick_us", 100)
	v.SetDefault("mmio.base", 0x40000000)
	v.SetDefault("mmio.size", 0x100000)
	v.SetDefault("log.level", "info")
}

// Load searches SearchPaths for sdrbridge.toml. A missing file is not an
// error: found is false and the defaults are returned.
func Load() (cfg *Config, found bool, err error) {
	v := viper.New()
	v.SetConfigName(Name)
	for _, p := range SearchPaths {
		v.AddConfigPath(p)
	}
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, false, fmt.Errorf("read config: %w", err)
		}
	} else {
		found = true
	}
	cfg, err = decode(v)
	return cfg, found, err
}

// LoadFile reads the given file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic("config defaults invalid: " + err.Error())
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := ParseMAC(c.Board.MAC); err != nil {
		return fmt.Errorf("board.mac: %w", err)
	}
	if _, err := ParseMAC(c.Sim.HostMAC); err != nil {
		return fmt.Errorf("sim.host_mac: %w", err)
	}
	if c.Stream.FramesPerCmd <= 0 {
		return fmt.Errorf("stream.frames_per_cmd must be positive, got %d", c.Stream.FramesPerCmd)
	}
	if c.Sim.TickMicros <= 0 {
		return fmt.Errorf("sim.tick_us must be positive, got %d", c.Sim.TickMicros)
	}
	if c.Tx.ScaleIQ > 0xFFFF {
		return fmt.Errorf("tx.scale_iq %d does not fit 16 bits", c.Tx.ScaleIQ)
	}
	return nil
}

// ParseMAC parses a colon separated Ethernet address.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, fmt.Errorf("%w: %v", ErrBadMAC, err)
	}
	if len(hw) != 6 {
		return mac, fmt.Errorf("%w: %q is not EUI-48", ErrBadMAC, s)
	}
	copy(mac[:], hw)
	return mac, nil
}

// BoardMAC returns the configured bridge address. The config was validated
// on load.
func (c *Config) BoardMAC() [6]byte {
	mac, _ := ParseMAC(c.Board.MAC)
	return mac
}

// HostMAC returns the simulated host's address.
func (c *Config) HostMAC() [6]byte {
	mac, _ := ParseMAC(c.Sim.HostMAC)
	return mac
}

// FirmwareOptions maps the config onto core.Options. Clock and Console are
// left for the caller.
func (c *Config) FirmwareOptions() core.Options {
	return core.Options{
		FramesPerCmd: c.Stream.FramesPerCmd,
		StampSeqno:   c.Stream.Seqno,
		TxScaleIQ:    c.Tx.ScaleIQ,
		TxInterp:     c.Tx.Interp,
	}
}
