package restserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/chrissnell/riverapi/internal/astrocast"
	"github.com/chrissnell/riverapi/internal/ingest"
	"github.com/chrissnell/riverapi/internal/poller"
	"github.com/chrissnell/riverapi/internal/positions"
	"github.com/chrissnell/riverapi/internal/storage"
	"github.com/chrissnell/riverapi/internal/types"
)

// Ingestor runs payloads through the decoding pipeline
type Ingestor interface {
	IngestMessage(ctx context.Context, msg types.RawMessage) (*ingest.Result, error)
	Preview(ctx context.Context, deviceGUID, raw string, highResolution bool) (*ingest.Result, error)
}

// PositionResolver answers assignment questions for stations and sensors
type PositionResolver interface {
	ResolvePositions(ctx context.Context, stationID uuid.UUID, at time.Time) (positions.PositionMap, error)
	History(ctx context.Context, sensorID uuid.UUID) ([]positions.Interval, error)
}

// Store is the subset of the datastore the API reads and writes
type Store interface {
	RawMessage(ctx context.Context, guid string) (*types.RawMessage, error)
	Station(ctx context.Context, id uuid.UUID) (*types.Station, error)
	StationByDevice(ctx context.Context, deviceGUID string) (*types.Station, error)
	SensorReadings(ctx context.Context, sensorID uuid.UUID, from, to time.Time) ([]types.CorrectedReading, error)
	SaveControlMessage(ctx context.Context, m *types.ControlMessage) error
}

// DeviceCatalog lists the terminals known to the satellite provider
type DeviceCatalog interface {
	Devices(ctx context.Context) ([]astrocast.Device, error)
	Device(ctx context.Context, deviceGUID string) (*astrocast.Device, error)
	DeviceSummaries(ctx context.Context) ([]astrocast.DeviceSummary, error)
}

// PollerStatus reports the state of the message poller
type PollerStatus interface {
	Status() poller.Status
}

// StationDataRequest is the body of POST /v1/stationdata
type StationDataRequest struct {
	DeviceID       string `json:"device_id" validate:"required"`
	Raw            string `json:"raw" validate:"required"`
	HighResolution *bool  `json:"high_resolution"`
}

// ControlMessageRequest is the body of POST /v1/controlmessages
type ControlMessageRequest struct {
	DeviceGUID  string          `json:"device_guid" validate:"required"`
	MessageGUID string          `json:"message_guid"`
	ReceivedAt  *time.Time      `json:"received_at"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// IngestResponse is returned by the ingestion endpoints
type IngestResponse struct {
	StationID  uuid.UUID                `json:"station_id"`
	RecordedAt time.Time                `json:"recorded_at"`
	Values     []int                    `json:"values"`
	Readings   []types.CorrectedReading `json:"readings"`
	Persisted  bool                     `json:"persisted"`
}

// HistoryResponse is returned by GET /v1/sensors/{sensor_id}/history
type HistoryResponse struct {
	SensorID  uuid.UUID            `json:"sensor_id"`
	Intervals []positions.Interval `json:"intervals"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status   string                        `json:"status"`
	Time     time.Time                     `json:"time"`
	Backends map[string]storage.HealthData `json:"backends,omitempty"`
	Poller   *poller.Status                `json:"poller,omitempty"`
}
