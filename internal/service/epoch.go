package service

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/invopop/jsonschema"
)

// Epoch is a time carried on the wire as seconds since the Unix epoch.
type Epoch struct {
	time.Time
}

// EpochOf wraps t.
func EpochOf(t time.Time) Epoch { return Epoch{Time: t} }

// MarshalJSON implements json.Marshaler.
func (e Epoch) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, e.Unix(), 10), nil
}

// UnmarshalJSON implements json.Unmarshaler. Fractional seconds are kept.
func (e *Epoch) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*e = Epoch{}
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("epoch timestamp %s: %w", b, err)
	}
	sec, frac := math.Modf(f)
	e.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return nil
}

// JSONSchema describes the wire form.
func (Epoch) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "number",
		Description: "seconds since the Unix epoch",
	}
}
