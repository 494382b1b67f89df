package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %s: %w", y.filename, err)
	}

	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Upstream UpstreamYAML   `yaml:"upstream"`
		Storage  StorageYAML    `yaml:"storage,omitempty"`
		Pipeline PipelineYAML   `yaml:"pipeline,omitempty"`
		REST     RESTServerYAML `yaml:"rest,omitempty"`
	}

	if err := yaml.Unmarshal(cfgFile, &yamlConfig); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", y.filename, err)
	}

	// Convert to our internal format
	config := &ConfigData{
		Upstream: UpstreamData{
			BaseURL:               yamlConfig.Upstream.BaseURL,
			APIKey:                yamlConfig.Upstream.APIKey,
			DisablePolling:        yamlConfig.Upstream.DisablePolling,
			PollIntervalSeconds:   yamlConfig.Upstream.PollIntervalSeconds,
			RetryMinWaitSeconds:   yamlConfig.Upstream.RetryMinWaitSeconds,
			RetryMaxWaitSeconds:   yamlConfig.Upstream.RetryMaxWaitSeconds,
			RequestTimeoutSeconds: yamlConfig.Upstream.RequestTimeoutSeconds,
		},
		Storage: StorageData{
			Database: DatabaseData{
				Driver:           yamlConfig.Storage.Database.Driver,
				ConnectionString: yamlConfig.Storage.Database.ConnectionString,
			},
		},
		Pipeline: PipelineData{
			OutputRange:     yamlConfig.Pipeline.OutputRange,
			SlotCount:       yamlConfig.Pipeline.SlotCount,
			PersistReadings: yamlConfig.Pipeline.PersistReadings,
			HighResolution:  yamlConfig.Pipeline.HighResolution,
		},
		REST: RESTServerData{
			Cert:        yamlConfig.REST.Cert,
			Key:         yamlConfig.REST.Key,
			Port:        yamlConfig.REST.Port,
			ListenAddr:  yamlConfig.REST.ListenAddr,
			EnableCORS:  yamlConfig.REST.EnableCORS,
			CORSOrigins: yamlConfig.REST.CORSOrigins,
		},
	}

	if yamlConfig.Storage.InfluxDB != nil {
		config.Storage.InfluxDB = &InfluxDBData{
			URL:    yamlConfig.Storage.InfluxDB.URL,
			Token:  yamlConfig.Storage.InfluxDB.Token,
			Org:    yamlConfig.Storage.InfluxDB.Org,
			Bucket: yamlConfig.Storage.InfluxDB.Bucket,
		}
	}

	config, err = finish(config)
	if err != nil {
		return nil, err
	}

	y.config = config
	return config, nil
}

func (y *YAMLProvider) loaded() (*ConfigData, error) {
	if y.config == nil {
		return y.LoadConfig()
	}
	return y.config, nil
}

// GetUpstreamConfig returns the satellite API configuration
func (y *YAMLProvider) GetUpstreamConfig() (*UpstreamData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Upstream, nil
}

// GetStorageConfig returns storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Storage, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with the file's kebab-case keys
type UpstreamYAML struct {
	BaseURL               string `yaml:"base-url"`
	APIKey                string `yaml:"api-key"`
	DisablePolling        bool   `yaml:"disable-polling,omitempty"`
	PollIntervalSeconds   int    `yaml:"poll-interval-seconds,omitempty"`
	RetryMinWaitSeconds   int    `yaml:"retry-min-wait-seconds,omitempty"`
	RetryMaxWaitSeconds   int    `yaml:"retry-max-wait-seconds,omitempty"`
	RequestTimeoutSeconds int    `yaml:"request-timeout-seconds,omitempty"`
}

type StorageYAML struct {
	Database DatabaseYAML  `yaml:"database"`
	InfluxDB *InfluxDBYAML `yaml:"influxdb,omitempty"`
}

type DatabaseYAML struct {
	Driver           string `yaml:"driver,omitempty"`
	ConnectionString string `yaml:"connection-string"`
}

type InfluxDBYAML struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token,omitempty"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type PipelineYAML struct {
	OutputRange     int   `yaml:"output-range,omitempty"`
	SlotCount       int   `yaml:"slot-count,omitempty"`
	PersistReadings *bool `yaml:"persist-readings,omitempty"`
	HighResolution  *bool `yaml:"high-resolution,omitempty"`
}

type RESTServerYAML struct {
	Cert        string   `yaml:"cert,omitempty"`
	Key         string   `yaml:"key,omitempty"`
	Port        int      `yaml:"port,omitempty"`
	ListenAddr  string   `yaml:"listen-addr,omitempty"`
	EnableCORS  bool     `yaml:"enable-cors,omitempty"`
	CORSOrigins []string `yaml:"cors-origins,omitempty"`
}
