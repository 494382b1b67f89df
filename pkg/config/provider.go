package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetUpstreamConfig() (*UpstreamData, error)
	GetStorageConfig() (*StorageData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Upstream UpstreamData   `json:"upstream"`
	Storage  StorageData    `json:"storage"`
	Pipeline PipelineData   `json:"pipeline"`
	REST     RESTServerData `json:"rest"`
}

// UpstreamData configures the satellite provider API and the message poller
type UpstreamData struct {
	BaseURL        string `json:"base_url" validate:"required,url"`
	APIKey         string `json:"api_key" validate:"required"`
	DisablePolling bool   `json:"disable_polling"`
	// Intervals are whole seconds
	PollIntervalSeconds   int `json:"poll_interval_seconds" validate:"gt=0"`
	RetryMinWaitSeconds   int `json:"retry_min_wait_seconds" validate:"gt=0"`
	RetryMaxWaitSeconds   int `json:"retry_max_wait_seconds" validate:"gtefield=RetryMinWaitSeconds"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds" validate:"gt=0"`
}

// PollInterval returns the poll interval as a duration
func (u UpstreamData) PollInterval() time.Duration {
	return time.Duration(u.PollIntervalSeconds) * time.Second
}

// RetryMinWait returns the lower backoff bound
func (u UpstreamData) RetryMinWait() time.Duration {
	return time.Duration(u.RetryMinWaitSeconds) * time.Second
}

// RetryMaxWait returns the upper backoff bound
func (u UpstreamData) RetryMaxWait() time.Duration {
	return time.Duration(u.RetryMaxWaitSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP timeout
func (u UpstreamData) RequestTimeout() time.Duration {
	return time.Duration(u.RequestTimeoutSeconds) * time.Second
}

// StorageData holds the configuration for the datastore and optional mirrors
type StorageData struct {
	Database DatabaseData  `json:"database"`
	InfluxDB *InfluxDBData `json:"influxdb,omitempty"`
}

// DatabaseData selects the relational datastore
type DatabaseData struct {
	Driver           string `json:"driver" validate:"oneof=postgres sqlite"`
	ConnectionString string `json:"connection_string" validate:"required"`
}

// InfluxDBData configures the InfluxDB 2.x mirror
type InfluxDBData struct {
	URL    string `json:"url" validate:"required,url"`
	Token  string `json:"token"`
	Org    string `json:"org" validate:"required"`
	Bucket string `json:"bucket" validate:"required"`
}

// PipelineData tunes message decoding and calibration
type PipelineData struct {
	OutputRange int `json:"output_range" validate:"gt=0"`
	SlotCount   int `json:"slot_count" validate:"gt=0,lte=9999"`
	// nil means true for both flags
	PersistReadings *bool `json:"persist_readings,omitempty"`
	HighResolution  *bool `json:"high_resolution,omitempty"`
}

// Persist reports whether ingested readings are stored
func (p PipelineData) Persist() bool {
	return p.PersistReadings == nil || *p.PersistReadings
}

// HighRes reports whether polled readings are flagged high resolution
func (p PipelineData) HighRes() bool {
	return p.HighResolution == nil || *p.HighResolution
}

// RESTServerData configures the HTTP API
type RESTServerData struct {
	Cert       string `json:"cert,omitempty"`
	Key        string `json:"key,omitempty"`
	Port       int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
	ListenAddr string `json:"listen_addr,omitempty"`
	EnableCORS bool   `json:"enable_cors,omitempty"`
	// CORSOrigins defaults to all origins when empty
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// Defaults used when a setting is absent
const (
	DefaultPollIntervalSeconds   = 60
	DefaultRetryMinWaitSeconds   = 1
	DefaultRetryMaxWaitSeconds   = 5
	DefaultRequestTimeoutSeconds = 10
	DefaultOutputRange           = 4096
	DefaultSlotCount             = 24
	DefaultListenAddr            = "0.0.0.0"
	DefaultPort                  = 8080
	DefaultDatabaseDriver        = "postgres"
)

// ApplyDefaults fills in every unset setting
func (c *ConfigData) ApplyDefaults() {
	if c.Upstream.PollIntervalSeconds == 0 {
		c.Upstream.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.Upstream.RetryMinWaitSeconds == 0 {
		c.Upstream.RetryMinWaitSeconds = DefaultRetryMinWaitSeconds
	}
	if c.Upstream.RetryMaxWaitSeconds == 0 {
		c.Upstream.RetryMaxWaitSeconds = DefaultRetryMaxWaitSeconds
	}
	if c.Upstream.RequestTimeoutSeconds == 0 {
		c.Upstream.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if c.Storage.Database.Driver == "" {
		c.Storage.Database.Driver = DefaultDatabaseDriver
	}
	if c.Pipeline.OutputRange == 0 {
		c.Pipeline.OutputRange = DefaultOutputRange
	}
	if c.Pipeline.SlotCount == 0 {
		c.Pipeline.SlotCount = DefaultSlotCount
	}
	if c.REST.ListenAddr == "" {
		c.REST.ListenAddr = DefaultListenAddr
	}
	if c.REST.Port == 0 {
		c.REST.Port = DefaultPort
	}
}

var validate = validator.New()

// Validate checks the configuration for missing or inconsistent settings
func (c *ConfigData) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// finish applies defaults and validates a freshly loaded configuration
func finish(c *ConfigData) (*ConfigData, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
