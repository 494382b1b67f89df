// Package calibration converts raw sensor codes into physical values using a
// sensor's dated calibration history.
package calibration

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chrissnell/riverapi/internal/types"
)

// DefaultOutputRange is the number of codes a station's ADC produces
const DefaultOutputRange = 4096

var (
	ErrOutOfRange   = errors.New("raw value outside calibrated range")
	ErrMissingValue = errors.New("raw value missing")
)

// Curve maps raw codes linearly onto [MinRange, MaxRange].
//
// MinRange and MaxRange also bound the accepted raw code, inclusive on both
// ends. Slope and Intercept are carried for the reading snapshot only.
type Curve struct {
	Entry       types.CalibrationEntry
	OutputRange int
}

// NewCurve builds a curve from a calibration entry
func NewCurve(entry types.CalibrationEntry, outputRange int) (Curve, error) {
	if outputRange <= 0 {
		return Curve{}, fmt.Errorf("output range must be positive, got %d", outputRange)
	}
	if entry.MaxRange < entry.MinRange {
		return Curve{}, fmt.Errorf("calibration %s: max range %v below min range %v", entry.ID, entry.MaxRange, entry.MinRange)
	}
	return Curve{Entry: entry, OutputRange: outputRange}, nil
}

// Correct converts a raw code into a physical value
func (c Curve) Correct(raw int) (float64, error) {
	r := float64(raw)
	if r < c.Entry.MinRange || r > c.Entry.MaxRange {
		return 0, fmt.Errorf("%w: %d not in [%v, %v]", ErrOutOfRange, raw, c.Entry.MinRange, c.Entry.MaxRange)
	}
	return (r/float64(c.OutputRange))*(c.Entry.MaxRange-c.Entry.MinRange) + c.Entry.MinRange, nil
}

// CorrectNullable is Correct for a value that may be absent
func (c Curve) CorrectNullable(raw *int) (float64, error) {
	if raw == nil {
		return 0, ErrMissingValue
	}
	return c.Correct(*raw)
}

// Snapshot copies the curve parameters for storage alongside a reading
func (c Curve) Snapshot(fallback bool) types.CalibrationSnapshot {
	id := c.Entry.ID
	on := c.Entry.CalibratedOn
	slope := c.Entry.Slope
	intercept := c.Entry.Intercept
	minRange := c.Entry.MinRange
	maxRange := c.Entry.MaxRange
	outputRange := c.OutputRange

	return types.CalibrationSnapshot{
		CalibrationID: &id,
		CalibratedOn:  &on,
		Slope:         &slope,
		Intercept:     &intercept,
		MinRange:      &minRange,
		MaxRange:      &maxRange,
		OutputRange:   &outputRange,
		Fallback:      fallback,
	}
}

// Selection is the calibration chosen for an instant
type Selection struct {
	Entry types.CalibrationEntry
	// Fallback is set when no entry precedes the instant and the most recent
	// entry was used instead.
	Fallback bool
}

// Select returns the calibration in effect at the given instant: the latest
// entry calibrated at or before it. When every entry is later than the instant,
// the most recent entry is returned with Fallback set. ok is false only when
// there are no entries at all.
func Select(entries []types.CalibrationEntry, at time.Time) (sel Selection, ok bool) {
	if len(entries) == 0 {
		return Selection{}, false
	}

	sorted := make([]types.CalibrationEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CalibratedOn.Before(sorted[j].CalibratedOn)
	})

	// first entry strictly after at
	idx := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].CalibratedOn.After(at)
	})
	if idx == 0 {
		return Selection{Entry: sorted[len(sorted)-1], Fallback: true}, true
	}
	return Selection{Entry: sorted[idx-1]}, true
}
