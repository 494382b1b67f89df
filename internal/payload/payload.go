// Package payload decodes the fixed-width ASCII frames that stations send
// through the satellite link.
//
// A frame is a 10 character Unix timestamp (seconds, UTC) followed by zero or
// more 4 character zero-padded decimal fields. Field i (1-based) carries the
// raw reading of the sensor at position i.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TimestampWidth is the number of characters holding the epoch seconds
	TimestampWidth = 10
	// FieldWidth is the number of characters per reading
	FieldWidth = 4
)

var (
	ErrMalformedTimestamp = errors.New("malformed payload timestamp")
	ErrMisalignedPayload  = errors.New("misaligned payload")
	ErrUndecodable        = errors.New("undecodable message data")
)

// Frame is a decoded payload
type Frame struct {
	RecordedAt time.Time `json:"recorded_at"`
	Values     []int     `json:"values"`
}

// Parse splits a raw payload into its timestamp and per-position values
func Parse(raw string) (Frame, error) {
	if len(raw) < TimestampWidth {
		return Frame{}, fmt.Errorf("%w: need %d characters, got %d", ErrMalformedTimestamp, TimestampWidth, len(raw))
	}

	epoch, err := strconv.ParseInt(raw[:TimestampWidth], 10, 64)
	if err != nil || strings.ContainsAny(raw[:TimestampWidth], "+-") {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw[:TimestampWidth])
	}

	rest := raw[TimestampWidth:]
	if len(rest)%FieldWidth != 0 {
		return Frame{}, fmt.Errorf("%w: %d characters after timestamp is not a multiple of %d", ErrMisalignedPayload, len(rest), FieldWidth)
	}

	values := make([]int, 0, len(rest)/FieldWidth)
	for i := 0; i < len(rest); i += FieldWidth {
		chunk := rest[i : i+FieldWidth]
		v, err := strconv.Atoi(chunk)
		if err != nil || strings.ContainsAny(chunk, "+- ") {
			return Frame{}, fmt.Errorf("%w: position %d holds non-numeric field %q", ErrMisalignedPayload, i/FieldWidth+1, chunk)
		}
		values = append(values, v)
	}

	return Frame{
		RecordedAt: time.Unix(epoch, 0).UTC(),
		Values:     values,
	}, nil
}

// Payload renders the frame back into its wire form. Values outside 0..9999
// cannot be represented and produce an error.
func (f Frame) Payload() (string, error) {
	var b strings.Builder
	b.Grow(TimestampWidth + FieldWidth*len(f.Values))

	ts := f.RecordedAt.Unix()
	if ts < 0 || ts > 9999999999 {
		return "", fmt.Errorf("timestamp %d does not fit in %d digits", ts, TimestampWidth)
	}
	fmt.Fprintf(&b, "%010d", ts)

	for i, v := range f.Values {
		if v < 0 || v > 9999 {
			return "", fmt.Errorf("value %d at position %d does not fit in %d digits", v, i+1, FieldWidth)
		}
		fmt.Fprintf(&b, "%04d", v)
	}
	return b.String(), nil
}

// DecodeData unwraps the base64 data field of an upstream message into the
// ASCII payload it carries.
func DecodeData(data string) (string, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return "", fmt.Errorf("%w: empty data", ErrUndecodable)
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return strings.TrimSpace(string(decoded)), nil
}

// EncodeData is the inverse of DecodeData
func EncodeData(raw string) string {
	return base64.StdEncoding.EncodeToString([]byte(raw))
}
