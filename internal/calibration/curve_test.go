package calibration

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/chrissnell/riverapi/internal/types"
	"github.com/google/uuid"
)

func entry(on time.Time, min, max float64) types.CalibrationEntry {
	return types.CalibrationEntry{
		Identity:     types.Identity{ID: uuid.New()},
		CalibratedOn: on,
		Slope:        1,
		MinRange:     min,
		MaxRange:     max,
	}
}

func TestCorrect(t *testing.T) {
	curve, err := NewCurve(entry(time.Time{}, 0, 4095), DefaultOutputRange)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		raw     int
		want    float64
		wantErr error
	}{
		{name: "min range", raw: 0, want: 0},
		{name: "station example", raw: 445, want: 445.0 / 4096.0 * 4095.0},
		{name: "max range", raw: 4095, want: 4095.0 / 4096.0 * 4095.0},
		{name: "below min", raw: -1, wantErr: ErrOutOfRange},
		{name: "above max", raw: 4096, wantErr: ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := curve.Correct(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Correct(%d) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Correct(%d) unexpected error: %v", tt.raw, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Correct(%d) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCorrectNonZeroMin(t *testing.T) {
	curve, err := NewCurve(entry(time.Time{}, 100, 200), DefaultOutputRange)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		raw     int
		want    float64
		wantErr error
	}{
		{name: "below min", raw: 99, wantErr: ErrOutOfRange},
		// the offset is min_range only when raw is 0, so min does not map to itself
		{name: "min range", raw: 100, want: 102.44140625},
		{name: "max range", raw: 200, want: 104.8828125},
		{name: "above max", raw: 201, wantErr: ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := curve.Correct(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Correct(%d) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Correct(%d) unexpected error: %v", tt.raw, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Correct(%d) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCorrectMonotonic(t *testing.T) {
	curve, err := NewCurve(entry(time.Time{}, 0, 1000), DefaultOutputRange)
	if err != nil {
		t.Fatal(err)
	}

	prev := math.Inf(-1)
	for raw := 0; raw <= 1000; raw++ {
		v, err := curve.Correct(raw)
		if err != nil {
			t.Fatalf("Correct(%d): %v", raw, err)
		}
		if v < prev {
			t.Fatalf("Correct(%d) = %v is less than Correct(%d) = %v", raw, v, raw-1, prev)
		}
		prev = v
	}
}

func TestCorrectNullable(t *testing.T) {
	curve, _ := NewCurve(entry(time.Time{}, 0, 4095), DefaultOutputRange)

	if _, err := curve.CorrectNullable(nil); !errors.Is(err, ErrMissingValue) {
		t.Errorf("CorrectNullable(nil) error = %v, want ErrMissingValue", err)
	}

	raw := 10
	if _, err := curve.CorrectNullable(&raw); err != nil {
		t.Errorf("CorrectNullable(10) unexpected error: %v", err)
	}
}

func TestNewCurveValidation(t *testing.T) {
	if _, err := NewCurve(entry(time.Time{}, 0, 10), 0); err == nil {
		t.Error("expected error for zero output range")
	}
	if _, err := NewCurve(entry(time.Time{}, 10, 0), DefaultOutputRange); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestSelect(t *testing.T) {
	jan := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	dec := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

	a, b, c := entry(jan, 0, 100), entry(jun, 0, 200), entry(dec, 0, 300)
	// deliberately unordered
	entries := []types.CalibrationEntry{c, a, b}

	tests := []struct {
		name         string
		at           time.Time
		wantID       uuid.UUID
		wantFallback bool
	}{
		{name: "exactly on first", at: jan, wantID: a.ID},
		{name: "between first and second", at: jan.AddDate(0, 2, 0), wantID: a.ID},
		{name: "exactly on second", at: jun, wantID: b.ID},
		{name: "after last", at: dec.AddDate(1, 0, 0), wantID: c.ID},
		{name: "before all falls back to most recent", at: jan.AddDate(-1, 0, 0), wantID: c.ID, wantFallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, ok := Select(entries, tt.at)
			if !ok {
				t.Fatal("Select returned no entry")
			}
			if sel.Entry.ID != tt.wantID {
				t.Errorf("selected %v, want %v", sel.Entry.CalibratedOn, tt.at)
			}
			if sel.Fallback != tt.wantFallback {
				t.Errorf("Fallback = %v, want %v", sel.Fallback, tt.wantFallback)
			}
		})
	}

	if _, ok := Select(nil, jan); ok {
		t.Error("Select on empty history should report no entry")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	e := entry(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 0, 4095)
	curve, _ := NewCurve(e, DefaultOutputRange)
	snap := curve.Snapshot(false)

	curve.Entry.MaxRange = 1
	if *snap.MaxRange != 4095 {
		t.Errorf("snapshot changed with curve: max range %v", *snap.MaxRange)
	}
	if *snap.OutputRange != DefaultOutputRange {
		t.Errorf("snapshot output range = %d", *snap.OutputRange)
	}
}
