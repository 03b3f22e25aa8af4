package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), Name+".toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Stream.FramesPerCmd != 1000 || !c.Stream.Seqno {
		t.Errorf("stream defaults %+v", c.Stream)
	}
	if c.Tx.ScaleIQ != 256 || c.Tx.Interp != 32 {
		t.Errorf("tx defaults %+v", c.Tx)
	}
	if c.BoardMAC() != [6]byte{0x00, 0x50, 0xc2, 0x85, 0x3f, 0xff} {
		t.Errorf("board mac %x", c.BoardMAC())
	}
	opts := c.FirmwareOptions()
	if opts.FramesPerCmd != 1000 || !opts.StampSeqno || opts.TxInterp != 32 {
		t.Errorf("options %+v", opts)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[board]
mac = "02:11:22:33:44:55"

[stream]
frames_per_cmd = 250
seqno = false

[tx]
interp = 64

[sim]
frame_period = 3
`)
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.BoardMAC() != [6]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55} {
		t.Errorf("mac %x", c.BoardMAC())
	}
	if c.Stream.FramesPerCmd != 250 || c.Stream.Seqno {
		t.Errorf("stream %+v", c.Stream)
	}
	if c.Tx.Interp != 64 || c.Tx.ScaleIQ != 256 {
		t.Errorf("tx %+v", c.Tx)
	}
	if c.Sim.FramePeriod != 3 || c.Sim.TicksPerFrame != 1000 {
		t.Errorf("sim %+v", c.Sim)
	}
}

func TestLoadFileRejectsBadMAC(t *testing.T) {
	path := writeConfig(t, "[board]\nmac = \"not-a-mac\"\n")
	if _, err := LoadFile(path); !errors.Is(err, ErrBadMAC) {
		t.Errorf("expected ErrBadMAC, got %v", err)
	}
}

func TestLoadFileRejectsZeroBatch(t *testing.T) {
	path := writeConfig(t, "[stream]\nframes_per_cmd = 0\n")
	if _, err := LoadFile(path); err == nil {
		t.Error("frames_per_cmd = 0 accepted")
	}
}

func TestLoadSearchPaths(t *testing.T) {
	dir := filepath.Dir(writeConfig(t, "[tx]\ninterp = 16\n"))
	saved := SearchPaths
	SearchPaths = []string{dir}
	defer func() { SearchPaths = saved }()

	c, found, err := Load()
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if c.Tx.Interp != 16 {
		t.Errorf("interp %d", c.Tx.Interp)
	}

	SearchPaths = []string{t.TempDir()}
	c, found, err = Load()
	if err != nil || found {
		t.Fatalf("missing file: found=%v err=%v", found, err)
	}
	if c.Tx.Interp != 32 {
		t.Errorf("defaults not applied: %d", c.Tx.Interp)
	}
}
