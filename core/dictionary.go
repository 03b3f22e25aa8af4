package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"sync"
)

// FirmwareVersion is reported in the data dictionary.
const FirmwareVersion = "sdrbridge-txrx-0.3.0"

// Dictionary is the data dictionary served by get_dictionary: command and
// response formats keyed to their IDs, firmware constants and
// enumerations, as zlib compressed JSON.
type Dictionary struct {
	mu           sync.Mutex
	commandReg   *CommandRegistry
	version      string
	constants    map[string]string
	enumerations map[string][]string
	cached       []byte
}

// dictionaryJSON is the wire layout. Commands and responses map
// "name format" to the message ID.
type dictionaryJSON struct {
	Version      string                    `json:"version"`
	Config       map[string]string         `json:"config"`
	Commands     map[string]int            `json:"commands"`
	Responses    map[string]int            `json:"responses"`
	Enumerations map[string]map[string]int `json:"enumerations,omitempty"`
}

func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		commandReg:   cmdReg,
		version:      FirmwareVersion,
		constants:    make(map[string]string),
		enumerations: make(map[string][]string),
	}
}

// AddConstant adds a constant to the config section.
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = fmt.Sprint(value)
	d.cached = nil
}

// AddEnumeration names the values of an enumerated argument. Empty names
// are left out.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = append([]string(nil), values...)
	d.cached = nil
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

// Build compresses and caches the dictionary. Call it after every command
// is registered; later registrations are not picked up until the next
// Build or change.
func (d *Dictionary) Build() error {
	// Read the registry before taking our lock so the two never nest.
	entries := d.commandReg.Entries()

	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.marshalLocked(entries)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("compress dictionary: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compress dictionary: %w", err)
	}
	d.cached = buf.Bytes()
	return nil
}

func (d *Dictionary) marshalLocked(entries []Command) ([]byte, error) {
	out := dictionaryJSON{
		Version:   d.version,
		Config:    d.constants,
		Commands:  make(map[string]int),
		Responses: make(map[string]int),
	}
	for _, c := range entries {
		key := c.Name
		if c.Format != "" {
			key += " " + c.Format
		}
		if c.Handler != nil {
			out.Commands[key] = int(c.ID)
		} else {
			out.Responses[key] = int(c.ID)
		}
	}
	if len(d.enumerations) > 0 {
		out.Enumerations = make(map[string]map[string]int)
		for name, values := range d.enumerations {
			m := make(map[string]int)
			for i, v := range values {
				if v != "" {
					m[v] = i
				}
			}
			out.Enumerations[name] = m
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode dictionary: %w", err)
	}
	return raw, nil
}

// Generate returns the compressed dictionary, building it if needed.
func (d *Dictionary) Generate() []byte {
	d.mu.Lock()
	cached := d.cached
	d.mu.Unlock()
	if cached != nil {
		return cached
	}
	if err := d.Build(); err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached
}

// GetChunk returns up to count bytes of the dictionary from offset. It is
// empty once offset reaches the end.
func (d *Dictionary) GetChunk(offset uint32, count int) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return nil
	}
	end := int(offset) + count
	if end > len(data) {
		end = len(data)
	}
	chunk := make([]byte, end-int(offset))
	copy(chunk, data[offset:end])
	return chunk
}
