// Package database holds the relational datastore behind the telemetry pipeline.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chrissnell/riverapi/internal/ingest"
	"github.com/chrissnell/riverapi/internal/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store implements the pipeline's datastore interfaces on top of gorm
type Store struct {
	DB *gorm.DB
}

// NewStore wraps an open database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Open connects to the database and brings its schema up to date
func Open(ctx context.Context, driver, connectionString string) (*Store, error) {
	db, err := CreateConnection(driver, connectionString)
	if err != nil {
		return nil, err
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates every table the pipeline uses
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.DB.WithContext(ctx).AutoMigrate(types.AllModels()...); err != nil {
		return fmt.Errorf("error migrating schema: %w", err)
	}
	return nil
}

// Ping checks that the database answers queries
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return s.DB.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRawMessage stores an upstream message. It returns false without error
// when a message with the same GUID is already stored.
func (s *Store) InsertRawMessage(ctx context.Context, msg *types.RawMessage) (bool, error) {
	err := s.DB.WithContext(ctx).Create(msg).Error
	if IsDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error storing message %s: %w", msg.MessageGUID, err)
	}
	return true, nil
}

// LastReceivedAt returns the newest received date of any stored message, or
// nil when nothing has been stored yet
func (s *Store) LastReceivedAt(ctx context.Context) (*time.Time, error) {
	var msg types.RawMessage
	err := s.DB.WithContext(ctx).Order("received_date DESC").Limit(1).Find(&msg).Error
	if err != nil {
		return nil, fmt.Errorf("error querying last received message: %w", err)
	}
	if msg.ID == uuid.Nil {
		return nil, nil
	}
	t := msg.ReceivedDate.UTC()
	return &t, nil
}

// RawMessage returns a stored message by its upstream GUID
func (s *Store) RawMessage(ctx context.Context, guid string) (*types.RawMessage, error) {
	var msg types.RawMessage
	err := s.DB.WithContext(ctx).Where("message_guid = ?", guid).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, guid)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// StationByDevice returns the station bound to an upstream device
func (s *Store) StationByDevice(ctx context.Context, deviceGUID string) (*types.Station, error) {
	var station types.Station
	err := s.DB.WithContext(ctx).Where("associated_device = ?", deviceGUID).First(&station).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownStation, deviceGUID)
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up station for device %s: %w", deviceGUID, err)
	}
	return &station, nil
}

// Station returns a station by ID
func (s *Store) Station(ctx context.Context, id uuid.UUID) (*types.Station, error) {
	var station types.Station
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&station).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: station %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &station, nil
}

// StationAssignments returns the assignments of a station installed at or before until
func (s *Store) StationAssignments(ctx context.Context, stationID uuid.UUID, until time.Time) ([]types.PositionAssignment, error) {
	var out []types.PositionAssignment
	err := s.DB.WithContext(ctx).
		Where("station_id = ? AND installed_on <= ?", stationID, until.UTC()).
		Order("position, installed_on, created_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SensorAssignmentEvents returns the assignment events relevant to a sensor's
// history in ascending order: its own installations, every vacancy, and any
// other sensor installed on a position it occupied.
func (s *Store) SensorAssignmentEvents(ctx context.Context, sensorID uuid.UUID) ([]types.PositionAssignment, error) {
	var out []types.PositionAssignment
	err := s.DB.WithContext(ctx).
		Where("sensor_id = ? OR sensor_id IS NULL OR EXISTS (?)", sensorID,
			s.DB.Table("position_assignments AS occupied").
				Select("1").
				Where("occupied.sensor_id = ? AND occupied.station_id = position_assignments.station_id AND occupied.position = position_assignments.position", sensorID),
		).
		Order("installed_on, created_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendAssignment records a new position assignment. History is never rewritten.
func (s *Store) AppendAssignment(ctx context.Context, a *types.PositionAssignment) error {
	a.InstalledOn = a.InstalledOn.UTC()
	return s.DB.WithContext(ctx).Create(a).Error
}

// AppendCalibration records a new calibration for a sensor
func (s *Store) AppendCalibration(ctx context.Context, c *types.CalibrationEntry) error {
	c.CalibratedOn = c.CalibratedOn.UTC()
	return s.DB.WithContext(ctx).Create(c).Error
}

// SensorsByID loads sensors with their parameter and full calibration history
func (s *Store) SensorsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]types.Sensor, error) {
	out := make(map[uuid.UUID]types.Sensor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var sensors []types.Sensor
	err := s.DB.WithContext(ctx).
		Preload("Parameter").
		Preload("Calibrations", func(db *gorm.DB) *gorm.DB {
			return db.Order("calibrated_on")
		}).
		Where("id IN ?", ids).
		Find(&sensors).Error
	if err != nil {
		return nil, fmt.Errorf("error loading sensors: %w", err)
	}

	for _, sensor := range sensors {
		out[sensor.ID] = sensor
	}
	return out, nil
}

// SaveReadings inserts corrected readings one by one, skipping any whose
// (message, position) pair is already stored. It returns the readings that
// were newly written.
func (s *Store) SaveReadings(ctx context.Context, readings []types.CorrectedReading) ([]types.CorrectedReading, error) {
	saved := make([]types.CorrectedReading, 0, len(readings))
	for i := range readings {
		r := readings[i]
		err := s.DB.WithContext(ctx).Create(&r).Error
		if IsDuplicateKey(err) {
			continue
		}
		if err != nil {
			return saved, fmt.Errorf("error storing reading for message %s position %d: %w", r.MessageGUID, r.Position, err)
		}
		saved = append(saved, r)
	}
	return saved, nil
}

// SensorReadings returns a sensor's readings recorded within [from, to], oldest first
func (s *Store) SensorReadings(ctx context.Context, sensorID uuid.UUID, from, to time.Time) ([]types.CorrectedReading, error) {
	var out []types.CorrectedReading
	err := s.DB.WithContext(ctx).
		Where("sensor_id = ? AND recorded_at >= ? AND recorded_at <= ?", sensorID, from.UTC(), to.UTC()).
		Order("recorded_at").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveControlMessage stores a station control message
func (s *Store) SaveControlMessage(ctx context.Context, m *types.ControlMessage) error {
	m.ReceivedAt = m.ReceivedAt.UTC()
	if err := s.DB.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("error storing control message: %w", err)
	}
	return nil
}
