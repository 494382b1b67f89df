// Package positions answers which sensor occupied which station position at
// a given instant, and where a sensor has been installed over time.
package positions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chrissnell/riverapi/internal/types"
	"github.com/google/uuid"
)

// DefaultSlots is the number of positions on a station data logger
const DefaultSlots = 24

var ErrInvalidPosition = errors.New("invalid position")

// AssignmentStore is the slice of the datastore the resolver reads from
type AssignmentStore interface {
	// StationAssignments returns the assignments of a station installed at or before until
	StationAssignments(ctx context.Context, stationID uuid.UUID, until time.Time) ([]types.PositionAssignment, error)
	// SensorAssignmentEvents returns, in ascending installed_on order, every
	// assignment naming the sensor, every vacancy, and every other sensor
	// installed on a position the sensor once occupied.
	SensorAssignmentEvents(ctx context.Context, sensorID uuid.UUID) ([]types.PositionAssignment, error)
}

// State of a position at an instant
type State int

const (
	// Unassigned means no assignment was ever recorded up to the instant
	Unassigned State = iota
	// Vacant means the latest assignment explicitly emptied the position
	Vacant
	// Occupied means a sensor is installed
	Occupied
)

func (s State) String() string {
	switch s {
	case Occupied:
		return "occupied"
	case Vacant:
		return "vacant"
	default:
		return "unassigned"
	}
}

// MarshalText renders the state by name in JSON and msgpack responses
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Slot is the resolved state of one position
type Slot struct {
	Position   int                       `json:"position"`
	State      State                     `json:"state"`
	SensorID   *uuid.UUID                `json:"sensor_id,omitempty"`
	Assignment *types.PositionAssignment `json:"assignment,omitempty"`
}

// PositionMap holds the slots of a station at an instant, indexed by position
type PositionMap struct {
	StationID uuid.UUID `json:"station_id"`
	At        time.Time `json:"at"`
	Slots     []Slot    `json:"slots"`
}

// Slot returns the state of position p
func (m PositionMap) Slot(p int) (Slot, bool) {
	if p < 1 || p > len(m.Slots) {
		return Slot{}, false
	}
	return m.Slots[p-1], true
}

// SensorAt returns the sensor installed at position p, if any. Vacant and
// unassigned positions both report no sensor.
func (m PositionMap) SensorAt(p int) (uuid.UUID, *types.PositionAssignment, bool) {
	s, ok := m.Slot(p)
	if !ok || s.State != Occupied {
		return uuid.Nil, nil, false
	}
	return *s.SensorID, s.Assignment, true
}

// Interval is one continuous stay of a sensor at a station position.
// To is nil while the sensor is still installed.
type Interval struct {
	StationID    uuid.UUID  `json:"station_id"`
	Position     int        `json:"position"`
	AssignmentID uuid.UUID  `json:"assignment_id"`
	From         time.Time  `json:"from"`
	To           *time.Time `json:"to"`
}

// Resolver resolves assignment history. It holds no per-request state and is
// safe for concurrent use.
type Resolver struct {
	store AssignmentStore
	slots int
}

// NewResolver creates a resolver for stations with the given number of positions
func NewResolver(store AssignmentStore, slots int) *Resolver {
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &Resolver{store: store, slots: slots}
}

// Slots returns the number of positions per station
func (r *Resolver) Slots() int {
	return r.slots
}

// ValidatePosition checks that p is a usable position number
func (r *Resolver) ValidatePosition(p int) error {
	if p < 1 || p > r.slots {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidPosition, p, r.slots)
	}
	return nil
}

// ResolvePositions returns the state of every position of a station at the given instant
func (r *Resolver) ResolvePositions(ctx context.Context, stationID uuid.UUID, at time.Time) (PositionMap, error) {
	at = at.UTC()

	assignments, err := r.store.StationAssignments(ctx, stationID, at)
	if err != nil {
		return PositionMap{}, fmt.Errorf("error loading assignments for station %s: %w", stationID, err)
	}

	m := PositionMap{
		StationID: stationID,
		At:        at,
		Slots:     make([]Slot, r.slots),
	}
	for i := range m.Slots {
		m.Slots[i].Position = i + 1
	}

	latest := make([]*types.PositionAssignment, r.slots)
	for i := range assignments {
		a := &assignments[i]
		if a.StationID != stationID || a.InstalledOn.After(at) {
			continue
		}
		if r.ValidatePosition(a.Position) != nil {
			continue
		}
		cur := latest[a.Position-1]
		if cur == nil || !a.InstalledOn.Before(cur.InstalledOn) {
			latest[a.Position-1] = a
		}
	}

	for i, a := range latest {
		if a == nil {
			continue
		}
		slot := &m.Slots[i]
		slot.Assignment = a
		if a.Vacated() {
			slot.State = Vacant
			continue
		}
		id := *a.SensorID
		slot.State = Occupied
		slot.SensorID = &id
	}

	return m, nil
}

// History returns every interval the sensor spent at a station position, most
// recent first.
func (r *Resolver) History(ctx context.Context, sensorID uuid.UUID) ([]Interval, error) {
	events, err := r.store.SensorAssignmentEvents(ctx, sensorID)
	if err != nil {
		return nil, fmt.Errorf("error loading assignment history for sensor %s: %w", sensorID, err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].InstalledOn.Before(events[j].InstalledOn)
	})

	var (
		intervals []Interval
		open      *Interval
	)

	closeOpen := func(at time.Time) {
		end := at.UTC()
		open.To = &end
		intervals = append(intervals, *open)
		open = nil
	}

	for _, e := range events {
		samePosition := open != nil && open.StationID == e.StationID && open.Position == e.Position

		switch {
		case e.SensorID != nil && *e.SensorID == sensorID:
			if samePosition {
				continue
			}
			if open != nil {
				closeOpen(e.InstalledOn)
			}
			open = &Interval{
				StationID:    e.StationID,
				Position:     e.Position,
				AssignmentID: e.ID,
				From:         e.InstalledOn.UTC(),
			}
		case samePosition:
			// vacated, or another sensor took the position
			closeOpen(e.InstalledOn)
		}
	}
	if open != nil {
		intervals = append(intervals, *open)
	}

	for i, j := 0, len(intervals)-1; i < j; i, j = i+1, j-1 {
		intervals[i], intervals[j] = intervals[j], intervals[i]
	}
	return intervals, nil
}
