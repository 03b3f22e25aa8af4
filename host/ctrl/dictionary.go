package ctrl

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

var ErrDictionaryOffset = errors.New("dictionary chunk out of order")

// DataDictionary is the decoded get_dictionary payload.
type DataDictionary struct {
	Version      string                    `json:"version"`
	Config       map[string]string         `json:"config"`
	Commands     map[string]int            `json:"commands"`
	Responses    map[string]int            `json:"responses"`
	Enumerations map[string]map[string]int `json:"enumerations"`
}

// ConfigUint returns a numeric constant from the config section.
func (d *DataDictionary) ConfigUint(name string) (uint64, error) {
	v, ok := d.Config[name]
	if !ok {
		return 0, errors.Errorf("dictionary has no constant %s", name)
	}
	n, err := strconv.ParseUint(v, 0, 64)
	return n, errors.Wrapf(err, "constant %s", name)
}

// DictionaryAssembler collects get_dictionary chunks. Ask for Next until
// Add reports the dictionary complete.
type DictionaryAssembler struct {
	data []byte
	done bool
}

// Next is the offset to request.
func (a *DictionaryAssembler) Next() uint32 { return uint32(len(a.data)) }

// Add appends one chunk and reports whether the dictionary is complete. An
// empty chunk marks the end.
func (a *DictionaryAssembler) Add(d *Dictionary) (bool, error) {
	if d.Offset != a.Next() {
		return false, errors.Wrapf(ErrDictionaryOffset, "got %d, expected %d", d.Offset, a.Next())
	}
	if len(d.Data) == 0 {
		a.done = true
		return true, nil
	}
	a.data = append(a.data, d.Data...)
	return false, nil
}

// Decode inflates and parses the assembled dictionary.
func (a *DictionaryAssembler) Decode() (*DataDictionary, error) {
	if !a.done {
		return nil, errors.New("dictionary incomplete")
	}
	return DecodeDictionary(a.data)
}

// DecodeDictionary parses a compressed dictionary.
func DecodeDictionary(data []byte) (*DataDictionary, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "dictionary")
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "inflate dictionary")
	}
	var d DataDictionary
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errors.Wrap(err, "parse dictionary")
	}
	return &d, nil
}
