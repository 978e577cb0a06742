// ABOUTME: Tagged attribute records decoded from function JSON
// ABOUTME: Known names carry a typed payload, unknown names fall back to the base handler
package yapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// AttrName identifies a known function attribute.
type AttrName int

const (
	AttrUnknown AttrName = iota
	AttrLogicalName
	AttrAdvertisedValue
	AttrVolume
	AttrMute
	AttrVolumeRange
	AttrSignal
	AttrNoSignalFor
)

var attrNames = map[string]AttrName{
	"logicalName":     AttrLogicalName,
	"advertisedValue": AttrAdvertisedValue,
	"volume":          AttrVolume,
	"mute":            AttrMute,
	"volumeRange":     AttrVolumeRange,
	"signal":          AttrSignal,
	"noSignalFor":     AttrNoSignalFor,
}

// LookupAttrName returns the tag for a wire field name.
func LookupAttrName(key string) AttrName {
	return attrNames[key]
}

// Kind is the payload type of an Attr.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindOther
)

// Attr is one field of a fetched function record.
type Attr struct {
	Name AttrName
	Key  string // wire name, kept for unknown attributes
	Kind Kind
	Int  int
	Str  string
}

// Record is a function record as served by a hub.
type Record map[string]json.RawMessage

// Attrs decodes the record into tagged attributes in key order.
func (r Record) Attrs() ([]Attr, error) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]Attr, 0, len(keys))
	for _, k := range keys {
		a, err := decodeAttr(k, r[k])
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func decodeAttr(key string, raw json.RawMessage) (Attr, error) {
	a := Attr{Name: LookupAttrName(key), Key: key}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		a.Kind = KindOther
		return a, nil
	}

	switch raw[0] {
	case '"':
		a.Kind = KindString
		if err := json.Unmarshal(raw, &a.Str); err != nil {
			return Attr{}, fmt.Errorf("attribute %s: %w", key, err)
		}
		// Some firmware serializes integer attributes as strings.
		if n, err := strconv.Atoi(a.Str); err == nil {
			a.Int = n
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		a.Kind = KindInt
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Attr{}, fmt.Errorf("attribute %s: %w", key, err)
		}
		a.Int = int(f)
		a.Str = string(raw)
	default:
		a.Kind = KindOther
		a.Str = string(raw)
	}
	return a, nil
}
