// Package ingest turns a raw station payload into calibrated, position-attributed
// readings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chrissnell/riverapi/internal/calibration"
	"github.com/chrissnell/riverapi/internal/payload"
	"github.com/chrissnell/riverapi/internal/positions"
	"github.com/chrissnell/riverapi/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrUnknownStation = errors.New("no station associated with device")

// StationLookup finds the station bound to an upstream device. Implementations
// return an error wrapping ErrUnknownStation when none is bound.
type StationLookup interface {
	StationByDevice(ctx context.Context, deviceGUID string) (*types.Station, error)
}

// SensorLookup loads sensors with their parameter and calibration history
type SensorLookup interface {
	SensorsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]types.Sensor, error)
}

// PositionResolver resolves a station's positions at an instant
type PositionResolver interface {
	ResolvePositions(ctx context.Context, stationID uuid.UUID, at time.Time) (positions.PositionMap, error)
}

// ReadingSink persists corrected readings
type ReadingSink interface {
	StoreReadings(ctx context.Context, readings []types.CorrectedReading) error
}

// Options controls how the ingestor builds and keeps readings
type Options struct {
	OutputRange int
	// Persist sends every ingested set of readings to the sink
	Persist bool
	// HighResolution marks readings as full-width ADC codes
	HighResolution bool
}

// Result is the station-scoped outcome of ingesting one message
type Result struct {
	Station    types.Station            `json:"station"`
	RecordedAt time.Time                `json:"recorded_at"`
	Values     []int                    `json:"values"`
	Readings   []types.CorrectedReading `json:"readings"`
}

// Ingestor runs the decode → resolve → calibrate pipeline
type Ingestor struct {
	stations StationLookup
	sensors  SensorLookup
	resolver PositionResolver
	sink     ReadingSink
	opts     Options
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// New creates an ingestor. sink may be nil, in which case nothing is persisted.
func New(stations StationLookup, sensors SensorLookup, resolver PositionResolver, sink ReadingSink, opts Options, logger *zap.SugaredLogger) *Ingestor {
	if opts.OutputRange <= 0 {
		opts.OutputRange = calibration.DefaultOutputRange
	}
	return &Ingestor{
		stations: stations,
		sensors:  sensors,
		resolver: resolver,
		sink:     sink,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IngestMessage decodes the data field of a stored message and ingests it
func (i *Ingestor) IngestMessage(ctx context.Context, msg types.RawMessage) (*Result, error) {
	raw, err := payload.DecodeData(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", msg.MessageGUID, err)
	}
	return i.Ingest(ctx, msg, raw)
}

// Ingest processes a raw payload received in msg and, when configured,
// persists the resulting readings.
func (i *Ingestor) Ingest(ctx context.Context, msg types.RawMessage, raw string) (*Result, error) {
	res, err := i.process(ctx, msg, raw, i.opts.HighResolution)
	if err != nil {
		return nil, err
	}

	if i.opts.Persist && i.sink != nil && len(res.Readings) > 0 {
		if err := i.sink.StoreReadings(ctx, res.Readings); err != nil {
			return res, fmt.Errorf("error storing readings for message %s: %w", msg.MessageGUID, err)
		}
	}
	return res, nil
}

// Preview processes a payload without persisting anything
func (i *Ingestor) Preview(ctx context.Context, deviceGUID, raw string, highResolution bool) (*Result, error) {
	return i.process(ctx, types.RawMessage{DeviceGUID: deviceGUID}, raw, highResolution)
}

func (i *Ingestor) process(ctx context.Context, msg types.RawMessage, raw string, highResolution bool) (*Result, error) {
	station, err := i.stations.StationByDevice(ctx, msg.DeviceGUID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, msg.DeviceGUID)
	}

	frame, err := payload.Parse(raw)
	if err != nil {
		return nil, err
	}

	slots, err := i.resolver.ResolvePositions(ctx, station.ID, frame.RecordedAt)
	if err != nil {
		return nil, err
	}
	if len(frame.Values) > len(slots.Slots) {
		i.logger.Warnw("payload has more fields than station positions; extra fields ignored",
			"station", station.ID, "message", msg.MessageGUID, "fields", len(frame.Values), "positions", len(slots.Slots))
	}

	type occupant struct {
		position   int
		raw        int
		sensorID   uuid.UUID
		assignment *types.PositionAssignment
	}
	var occupants []occupant
	var sensorIDs []uuid.UUID
	for idx, v := range frame.Values {
		p := idx + 1
		sensorID, assignment, ok := slots.SensorAt(p)
		if !ok {
			continue
		}
		occupants = append(occupants, occupant{position: p, raw: v, sensorID: sensorID, assignment: assignment})
		sensorIDs = append(sensorIDs, sensorID)
	}

	result := &Result{
		Station:    *station,
		RecordedAt: frame.RecordedAt,
		Values:     frame.Values,
		Readings:   make([]types.CorrectedReading, 0, len(occupants)),
	}
	if len(occupants) == 0 {
		return result, nil
	}

	sensors, err := i.sensors.SensorsByID(ctx, sensorIDs)
	if err != nil {
		return nil, fmt.Errorf("error loading sensors for station %s: %w", station.ID, err)
	}

	correctedAt := i.now()
	for _, o := range occupants {
		sensor, ok := sensors[o.sensorID]
		if !ok {
			i.logger.Warnw("assignment references a missing sensor", "station", station.ID, "position", o.position, "sensor", o.sensorID)
			continue
		}

		reading := types.CorrectedReading{
			MessageGUID:    msg.MessageGUID,
			Position:       o.position,
			StationID:      station.ID,
			AssignmentID:   o.assignment.ID,
			SensorID:       sensor.ID,
			ParameterID:    sensor.ParameterID,
			RecordedAt:     frame.RecordedAt,
			RawValue:       o.raw,
			HighResolution: highResolution,
			CorrectedAt:    correctedAt,
		}
		i.calibrate(&reading, sensor, frame.RecordedAt)
		result.Readings = append(result.Readings, reading)
	}

	return result, nil
}

// calibrate fills in the corrected value, status and calibration snapshot. A
// reading that cannot be corrected keeps its raw value with a nil corrected value.
func (i *Ingestor) calibrate(r *types.CorrectedReading, sensor types.Sensor, at time.Time) {
	sel, ok := calibration.Select(sensor.Calibrations, at)
	if !ok {
		r.Status = types.StatusUncalibrated
		return
	}

	curve, err := calibration.NewCurve(sel.Entry, i.opts.OutputRange)
	if err != nil {
		i.logger.Warnw("unusable calibration", "sensor", sensor.ID, "calibration", sel.Entry.ID, "error", err)
		r.Status = types.StatusUncalibrated
		return
	}
	r.Calibration = curve.Snapshot(sel.Fallback)

	v, err := curve.Correct(r.RawValue)
	if err != nil {
		i.logger.Warnw("reading out of calibrated range", "sensor", sensor.ID, "position", r.Position, "raw", r.RawValue, "error", err)
		r.Status = types.StatusOutOfRange
		return
	}
	r.CorrectedValue = &v
	r.Status = types.StatusOK
}
