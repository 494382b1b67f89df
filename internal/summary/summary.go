// Package summary computes descriptive statistics over corrected readings.
package summary

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/riverapi/internal/types"
)

// Summary describes the corrected values of one sensor over a time window.
// Readings without a corrected value count toward Readings but not toward
// the statistics.
type Summary struct {
	SensorID   uuid.UUID  `json:"sensor_id"`
	From       time.Time  `json:"from"`
	To         time.Time  `json:"to"`
	Readings   int        `json:"readings"`
	Count      int        `json:"count"`
	First      *time.Time `json:"first,omitempty"`
	Last       *time.Time `json:"last,omitempty"`
	Mean       *float64   `json:"mean,omitempty"`
	StdDev     *float64   `json:"stddev,omitempty"`
	Min        *float64   `json:"min,omitempty"`
	Max        *float64   `json:"max,omitempty"`
	OutOfRange int        `json:"out_of_range"`
}

// Summarize builds a Summary from readings in any order
func Summarize(sensorID uuid.UUID, from, to time.Time, readings []types.CorrectedReading) Summary {
	s := Summary{
		SensorID: sensorID,
		From:     from.UTC(),
		To:       to.UTC(),
		Readings: len(readings),
	}

	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		at := r.RecordedAt.UTC()
		if s.First == nil || at.Before(*s.First) {
			s.First = &at
		}
		if s.Last == nil || at.After(*s.Last) {
			s.Last = &at
		}
		if r.Status == types.StatusOutOfRange {
			s.OutOfRange++
		}
		if r.CorrectedValue != nil {
			values = append(values, *r.CorrectedValue)
		}
	}

	s.Count = len(values)
	if s.Count == 0 {
		return s
	}

	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		// a single sample has no spread
		std = 0
	}
	min, max := floats.Min(values), floats.Max(values)
	s.Mean, s.StdDev, s.Min, s.Max = &mean, &std, &min, &max
	return s
}
