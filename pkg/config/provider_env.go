package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvProvider implements ConfigProvider on top of environment variables.
// A .env file in the working directory, when present, is loaded first and
// never overrides variables that are already set.
type EnvProvider struct {
	envFiles []string
	config   *ConfigData
}

// NewEnvProvider creates an environment provider. With no files given it
// looks for ./.env and carries on without it. Files named explicitly must
// exist.
func NewEnvProvider(envFiles ...string) *EnvProvider {
	return &EnvProvider{envFiles: envFiles}
}

// LoadConfig reads the configuration from the environment
func (e *EnvProvider) LoadConfig() (*ConfigData, error) {
	if len(e.envFiles) == 0 {
		// ./.env is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not load .env: %w", err)
		}
	} else if err := godotenv.Load(e.envFiles...); err != nil {
		return nil, fmt.Errorf("could not load env file: %w", err)
	}

	var (
		c   ConfigData
		err error
	)

	c.Upstream.BaseURL = env("ASTROCAST_API_URL")
	c.Upstream.APIKey = env("ASTROCAST_API_KEY")

	enabled, err := envBool("ASTROCAST_POLLING_ENABLED", true)
	if err != nil {
		return nil, err
	}
	c.Upstream.DisablePolling = !enabled

	ints := []struct {
		key string
		dst *int
	}{
		{"ASTROCAST_POLLING_INTERVAL_SECONDS", &c.Upstream.PollIntervalSeconds},
		{"ASTROCAST_RETRY_MIN_WAIT_SECONDS", &c.Upstream.RetryMinWaitSeconds},
		{"ASTROCAST_RETRY_MAX_WAIT_SECONDS", &c.Upstream.RetryMaxWaitSeconds},
		{"ASTROCAST_REQUEST_TIMEOUT_SECONDS", &c.Upstream.RequestTimeoutSeconds},
		{"DEVICE_OUTPUT_RANGE", &c.Pipeline.OutputRange},
		{"STATION_SLOT_COUNT", &c.Pipeline.SlotCount},
		{"API_PORT", &c.REST.Port},
	}
	for _, i := range ints {
		if *i.dst, err = envInt(i.key); err != nil {
			return nil, err
		}
	}

	if v := env("PERSIST_READINGS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PERSIST_READINGS: %w", err)
		}
		c.Pipeline.PersistReadings = &b
	}
	if v := env("HIGH_RESOLUTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid HIGH_RESOLUTION: %w", err)
		}
		c.Pipeline.HighResolution = &b
	}

	c.Storage.Database.Driver = env("DB_DRIVER")
	c.Storage.Database.ConnectionString = databaseURL(c.Storage.Database.Driver)

	if url := env("INFLUXDB_URL"); url != "" {
		c.Storage.InfluxDB = &InfluxDBData{
			URL:    url,
			Token:  env("INFLUXDB_TOKEN"),
			Org:    env("INFLUXDB_ORG"),
			Bucket: env("INFLUXDB_BUCKET"),
		}
	}

	c.REST.ListenAddr = env("API_LISTEN_ADDR")
	c.REST.Cert = env("API_TLS_CERT")
	c.REST.Key = env("API_TLS_KEY")
	if c.REST.EnableCORS, err = envBool("API_ENABLE_CORS", false); err != nil {
		return nil, err
	}
	if origins := env("API_CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.REST.CORSOrigins = append(c.REST.CORSOrigins, o)
			}
		}
	}

	cfg, err := finish(&c)
	if err != nil {
		return nil, err
	}
	e.config = cfg
	return cfg, nil
}

func (e *EnvProvider) loaded() (*ConfigData, error) {
	if e.config == nil {
		return e.LoadConfig()
	}
	return e.config, nil
}

// GetUpstreamConfig returns the satellite API configuration
func (e *EnvProvider) GetUpstreamConfig() (*UpstreamData, error) {
	c, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Upstream, nil
}

// GetStorageConfig returns storage configuration
func (e *EnvProvider) GetStorageConfig() (*StorageData, error) {
	c, err := e.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Storage, nil
}

// IsReadOnly returns true
func (e *EnvProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op
func (e *EnvProvider) Close() error {
	return nil
}

// databaseURL prefers DB_URL and otherwise assembles a connection string
// from its parts. For sqlite DB_NAME is the database file.
func databaseURL(driver string) string {
	if url := env("DB_URL"); url != "" {
		return url
	}

	name := env("DB_NAME")
	if driver == "sqlite" {
		return name
	}

	host := env("DB_HOST")
	if host == "" {
		return ""
	}
	port := env("DB_PORT")
	if port == "" {
		port = "5432"
	}
	parts := []string{
		"host=" + host,
		"port=" + port,
	}
	if user := env("DB_USER"); user != "" {
		parts = append(parts, "user="+user)
	}
	if pw := env("DB_PASSWORD"); pw != "" {
		parts = append(parts, "password="+pw)
	}
	if name != "" {
		parts = append(parts, "dbname="+name)
	}
	sslmode := env("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}
	parts = append(parts, "sslmode="+sslmode)
	return strings.Join(parts, " ")
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// envInt returns 0 for an unset variable so defaults apply later
func envInt(key string) (int, error) {
	v := env(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
