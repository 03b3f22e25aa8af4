package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"
)

func inflate(t *testing.T, data []byte) dictionaryJSON {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib: %v", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	var d dictionaryJSON
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("json: %v\n%s", err, raw)
	}
	return d
}

func TestDictionary(t *testing.T) {
	reg := NewCommandRegistry()
	reg.Register("test_cmd", "arg=%u", func(*[]byte) error { return nil })
	reg.Register("bare", "", func(*[]byte) error { return nil })
	reg.RegisterResponse("test_resp", "v=%u")

	dict := NewDictionary(reg)
	dict.AddConstant("TEST_CONST", uint32(42))
	dict.AddConstant("TEST_STR", "hello")
	dict.AddEnumeration("test_kind", []string{"", "one", "two"})
	if err := dict.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := inflate(t, dict.Generate())
	if d.Version != FirmwareVersion {
		t.Errorf("version %q", d.Version)
	}
	if d.Config["TEST_CONST"] != "42" || d.Config["TEST_STR"] != "hello" {
		t.Errorf("config %v", d.Config)
	}
	if d.Commands["test_cmd arg=%u"] != 0 || d.Commands["bare"] != 1 {
		t.Errorf("commands %v", d.Commands)
	}
	if id, ok := d.Responses["test_resp v=%u"]; !ok || id != 2 {
		t.Errorf("responses %v", d.Responses)
	}
	kinds := d.Enumerations["test_kind"]
	if len(kinds) != 2 || kinds["one"] != 1 || kinds["two"] != 2 {
		t.Errorf("enumeration %v", kinds)
	}
}

func TestDictionaryChunks(t *testing.T) {
	reg := NewCommandRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		reg.Register(name, "x=%u y=%u", func(*[]byte) error { return nil })
	}
	dict := NewDictionary(reg)
	dict.AddConstant("TEST", uint32(123))
	full := dict.Generate()
	if len(full) == 0 {
		t.Fatal("empty dictionary")
	}

	var got []byte
	for off := uint32(0); ; {
		chunk := dict.GetChunk(off, 16)
		if len(chunk) == 0 {
			break
		}
		if len(chunk) > 16 {
			t.Fatalf("chunk of %d bytes", len(chunk))
		}
		got = append(got, chunk...)
		off += uint32(len(chunk))
	}
	if !bytes.Equal(got, full) {
		t.Error("reassembled chunks differ from the dictionary")
	}
	if c := dict.GetChunk(uint32(len(full))+10, 16); c != nil {
		t.Errorf("chunk past end: %v", c)
	}
}

func TestDictionaryRebuildsAfterChange(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	before := inflate(t, dict.Generate())
	if _, ok := before.Config["LATE"]; ok {
		t.Fatal("LATE present before it was added")
	}
	dict.AddConstant("LATE", 7)
	after := inflate(t, dict.Generate())
	if after.Config["LATE"] != "7" {
		t.Errorf("config after change %v", after.Config)
	}
}

func TestFirmwareDictionary(t *testing.T) {
	fw, _ := newTestFirmware(t)
	d := inflate(t, fw.Dictionary().Generate())
	if d.Config["MAX_ITEMS_PER_FRAME"] != "368" || d.Config["CLOCK_FREQ"] != "100000000" {
		t.Errorf("config %v", d.Config)
	}
	if d.Commands["start_rx_streaming items=%u secs=%u ticks=%u"] != int(CmdStartRxStreaming) {
		t.Errorf("commands %v", d.Commands)
	}
	if d.Responses["fault kind=%c dir=%c buf=%i clock=%u"] != int(RespFault) {
		t.Errorf("responses %v", d.Responses)
	}
	if d.Enumerations["fault_kind"]["overrun"] != int(FaultOverrun) {
		t.Errorf("fault_kind %v", d.Enumerations["fault_kind"])
	}
}
