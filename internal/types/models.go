// Package types holds the persisted domain records shared by the pipeline,
// the datastore and the REST controller.
package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Identity is the UUID primary key shared by every record. A zero ID is
// filled in on insert.
type Identity struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
}

// BeforeCreate implements the gorm hook that assigns a fresh ID
func (i *Identity) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// RawMessage is a satellite message exactly as the upstream provider delivered it.
// It is never modified after insert.
type RawMessage struct {
	Identity
	MessageGUID            string    `gorm:"column:message_guid;uniqueIndex;not null" json:"message_guid"`
	DeviceGUID             string    `gorm:"column:device_guid;index;not null" json:"device_guid"`
	CreatedDate            time.Time `gorm:"column:created_date" json:"created_date"`
	ReceivedDate           time.Time `gorm:"column:received_date;index" json:"received_date"`
	RequestedAt            time.Time `gorm:"column:requested_at" json:"requested_at"`
	Latitude               float64   `gorm:"column:latitude" json:"latitude"`
	Longitude              float64   `gorm:"column:longitude" json:"longitude"`
	Data                   string    `gorm:"column:data" json:"data"`
	MessageSize            int       `gorm:"column:message_size" json:"message_size"`
	CallbackDeliveryStatus string    `gorm:"column:callback_delivery_status" json:"callback_delivery_status"`
}

// TableName implements the GORM Tabler interface for the RawMessage struct
func (RawMessage) TableName() string {
	return "raw_messages"
}

// Station is a monitoring site. AssociatedDevice links it to one upstream device.
type Station struct {
	Identity
	Name             string    `gorm:"column:name;not null" json:"name"`
	Description      string    `gorm:"column:description" json:"description,omitempty"`
	Acronym          string    `gorm:"column:acronym" json:"acronym,omitempty"`
	CatchmentName    string    `gorm:"column:catchment_name" json:"catchment_name,omitempty"`
	XCoordinate      *float64  `gorm:"column:x_coordinate" json:"x_coordinate,omitempty"`
	YCoordinate      *float64  `gorm:"column:y_coordinate" json:"y_coordinate,omitempty"`
	AssociatedDevice *string   `gorm:"column:associated_device;uniqueIndex" json:"associated_device,omitempty"`
	TimeAddedUTC     time.Time `gorm:"column:time_added_utc;autoCreateTime" json:"time_added_utc"`
}

func (Station) TableName() string {
	return "stations"
}

// Parameter is the physical quantity a sensor measures
type Parameter struct {
	Identity
	Name    string `gorm:"column:name;not null" json:"name"`
	Acronym string `gorm:"column:acronym" json:"acronym,omitempty"`
	Unit    string `gorm:"column:unit" json:"unit,omitempty"`
}

func (Parameter) TableName() string {
	return "parameters"
}

// Sensor is a physical instrument. Its calibration history travels with it
// between positions and stations.
type Sensor struct {
	Identity
	SerialNumber string             `gorm:"column:serial_number" json:"serial_number,omitempty"`
	Model        string             `gorm:"column:model" json:"model,omitempty"`
	FieldID      string             `gorm:"column:field_id" json:"field_id,omitempty"`
	ParameterID  uuid.UUID          `gorm:"column:parameter_id;type:uuid" json:"parameter_id"`
	Parameter    Parameter          `json:"parameter"`
	Calibrations []CalibrationEntry `gorm:"foreignKey:SensorID" json:"calibrations,omitempty"`
}

func (Sensor) TableName() string {
	return "sensors"
}

// CalibrationEntry is one dated calibration of a sensor. Entries are append-only;
// the one in effect at time T is the latest with CalibratedOn <= T.
type CalibrationEntry struct {
	Identity
	SensorID     uuid.UUID `gorm:"column:sensor_id;type:uuid;index:idx_calibration_sensor_date" json:"sensor_id"`
	CalibratedOn time.Time `gorm:"column:calibrated_on;index:idx_calibration_sensor_date" json:"calibrated_on"`
	Slope        float64   `gorm:"column:slope" json:"slope"`
	Intercept    float64   `gorm:"column:intercept" json:"intercept"`
	MinRange     float64   `gorm:"column:min_range" json:"min_range"`
	MaxRange     float64   `gorm:"column:max_range" json:"max_range"`
}

func (CalibrationEntry) TableName() string {
	return "calibration_entries"
}

// PositionAssignment records that, from InstalledOn onward, SensorID occupies
// Position at StationID. A nil SensorID marks the position as vacated.
type PositionAssignment struct {
	Identity
	StationID   uuid.UUID  `gorm:"column:station_id;type:uuid;not null;index:idx_assignment_lookup,priority:1" json:"station_id"`
	Position    int        `gorm:"column:position;not null;index:idx_assignment_lookup,priority:2" json:"position"`
	InstalledOn time.Time  `gorm:"column:installed_on;not null;index:idx_assignment_lookup,priority:3" json:"installed_on"`
	SensorID    *uuid.UUID `gorm:"column:sensor_id;type:uuid;index" json:"sensor_id"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (PositionAssignment) TableName() string {
	return "position_assignments"
}

// Vacated reports whether the assignment empties its position
func (a PositionAssignment) Vacated() bool {
	return a.SensorID == nil
}

// Reading status values
const (
	StatusOK           = "ok"
	StatusOutOfRange   = "out_of_range"
	StatusUncalibrated = "uncalibrated"
)

// CalibrationSnapshot is a copy of the calibration that produced a reading.
// Later edits to the calibration history never change a stored reading.
type CalibrationSnapshot struct {
	CalibrationID *uuid.UUID `gorm:"column:calibration_id;type:uuid" json:"calibration_id,omitempty"`
	CalibratedOn  *time.Time `gorm:"column:calibrated_on" json:"calibrated_on,omitempty"`
	Slope         *float64   `gorm:"column:slope" json:"slope,omitempty"`
	Intercept     *float64   `gorm:"column:intercept" json:"intercept,omitempty"`
	MinRange      *float64   `gorm:"column:min_range" json:"min_range,omitempty"`
	MaxRange      *float64   `gorm:"column:max_range" json:"max_range,omitempty"`
	OutputRange   *int       `gorm:"column:output_range" json:"output_range,omitempty"`
	Fallback      bool       `gorm:"column:calibration_fallback" json:"calibration_fallback,omitempty"`
}

// CorrectedReading is one calibrated value derived from one position of one message
type CorrectedReading struct {
	Identity
	MessageGUID    string              `gorm:"column:message_guid;not null;uniqueIndex:idx_reading_message_position,priority:1" json:"message_guid"`
	Position       int                 `gorm:"column:position;not null;uniqueIndex:idx_reading_message_position,priority:2" json:"position"`
	StationID      uuid.UUID           `gorm:"column:station_id;type:uuid;index" json:"station_id"`
	AssignmentID   uuid.UUID           `gorm:"column:assignment_id;type:uuid" json:"assignment_id"`
	SensorID       uuid.UUID           `gorm:"column:sensor_id;type:uuid;index:idx_reading_sensor_time,priority:1" json:"sensor_id"`
	ParameterID    uuid.UUID           `gorm:"column:parameter_id;type:uuid" json:"parameter_id"`
	RecordedAt     time.Time           `gorm:"column:recorded_at;index:idx_reading_sensor_time,priority:2" json:"recorded_at"`
	RawValue       int                 `gorm:"column:raw_value" json:"raw_value"`
	CorrectedValue *float64            `gorm:"column:corrected_value" json:"corrected_value"`
	HighResolution bool                `gorm:"column:high_resolution" json:"high_resolution"`
	CorrectedAt    time.Time           `gorm:"column:corrected_at" json:"corrected_at"`
	Status         string              `gorm:"column:status" json:"status"`
	Calibration    CalibrationSnapshot `gorm:"embedded" json:"calibration"`
}

func (CorrectedReading) TableName() string {
	return "corrected_readings"
}

// ControlMessage is a station start-up notification. Its payload is stored as-is.
type ControlMessage struct {
	Identity
	StationID   *uuid.UUID     `gorm:"column:station_id;type:uuid;index" json:"station_id,omitempty"`
	DeviceGUID  string         `gorm:"column:device_guid" json:"device_guid,omitempty"`
	MessageGUID string         `gorm:"column:message_guid" json:"message_guid,omitempty"`
	ReceivedAt  time.Time      `gorm:"column:received_at" json:"received_at"`
	Payload     datatypes.JSON `gorm:"column:payload" json:"payload"`
}

func (ControlMessage) TableName() string {
	return "control_messages"
}

// AllModels lists every record type for schema migration
func AllModels() []interface{} {
	return []interface{}{
		&RawMessage{},
		&Station{},
		&Parameter{},
		&Sensor{},
		&CalibrationEntry{},
		&PositionAssignment{},
		&CorrectedReading{},
		&ControlMessage{},
	}
}
