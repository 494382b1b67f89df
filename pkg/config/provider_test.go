package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestYAMLProviderLoadConfig(t *testing.T) {
	path := writeConfig(t, `
upstream:
  base-url: https://api.astrocast.com/v1
  api-key: secret
  poll-interval-seconds: 30
storage:
  database:
    driver: sqlite
    connection-string: /var/lib/riverapi/river.db
  influxdb:
    url: http://localhost:8086
    org: river
    bucket: readings
pipeline:
  persist-readings: false
rest:
  port: 9090
  enable-cors: true
`)

	p := NewYAMLProvider(path)
	c, err := p.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if c.Upstream.PollIntervalSeconds != 30 {
		t.Errorf("poll interval = %d", c.Upstream.PollIntervalSeconds)
	}
	if c.Upstream.RetryMaxWaitSeconds != DefaultRetryMaxWaitSeconds {
		t.Errorf("retry max = %d, want default", c.Upstream.RetryMaxWaitSeconds)
	}
	if c.Upstream.DisablePolling {
		t.Error("polling disabled without being asked")
	}
	if c.Storage.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", c.Storage.Database.Driver)
	}
	if c.Storage.InfluxDB == nil || c.Storage.InfluxDB.Bucket != "readings" {
		t.Errorf("influxdb = %+v", c.Storage.InfluxDB)
	}
	if c.Pipeline.Persist() {
		t.Error("persist-readings: false was ignored")
	}
	if !c.Pipeline.HighRes() {
		t.Error("high resolution should default to true")
	}
	if c.Pipeline.OutputRange != DefaultOutputRange || c.Pipeline.SlotCount != DefaultSlotCount {
		t.Errorf("pipeline defaults = %+v", c.Pipeline)
	}
	if c.REST.Port != 9090 || !c.REST.EnableCORS || c.REST.ListenAddr != DefaultListenAddr {
		t.Errorf("rest = %+v", c.REST)
	}

	up, err := p.GetUpstreamConfig()
	if err != nil || up.APIKey != "secret" {
		t.Errorf("GetUpstreamConfig = %+v, %v", up, err)
	}
}

func TestYAMLProviderInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing api key",
			body: `
upstream:
  base-url: https://api.astrocast.com/v1
storage:
  database:
    connection-string: host=localhost
`,
			want: "APIKey",
		},
		{
			name: "retry bounds inverted",
			body: `
upstream:
  base-url: https://api.astrocast.com/v1
  api-key: k
  retry-min-wait-seconds: 10
  retry-max-wait-seconds: 2
storage:
  database:
    connection-string: host=localhost
`,
			want: "RetryMaxWaitSeconds",
		},
		{
			name: "unknown driver",
			body: `
upstream:
  base-url: https://api.astrocast.com/v1
  api-key: k
storage:
  database:
    driver: oracle
    connection-string: x
`,
			want: "Driver",
		},
		{
			name: "not yaml",
			body: "upstream: [",
			want: "could not parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLProvider(writeConfig(t, tt.body)).LoadConfig()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestYAMLProviderMissingFile(t *testing.T) {
	_, err := NewYAMLProvider(filepath.Join(t.TempDir(), "absent.yaml")).GetStorageConfig()
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

// emptyEnvFile writes an env file with no entries so tests read only the
// variables they set.
func emptyEnvFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEnvProviderLoadConfig(t *testing.T) {
	t.Setenv("ASTROCAST_API_URL", "https://api.astrocast.com/v1")
	t.Setenv("ASTROCAST_API_KEY", "secret")
	t.Setenv("ASTROCAST_POLLING_ENABLED", "false")
	t.Setenv("ASTROCAST_RETRY_MAX_WAIT_SECONDS", "8")
	t.Setenv("STATION_SLOT_COUNT", "12")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "river")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "river")
	t.Setenv("INFLUXDB_URL", "")
	t.Setenv("API_CORS_ORIGINS", "https://a.example, https://b.example")

	c, err := NewEnvProvider(emptyEnvFile(t)).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if !c.Upstream.DisablePolling {
		t.Error("ASTROCAST_POLLING_ENABLED=false was ignored")
	}
	if c.Upstream.RetryMaxWaitSeconds != 8 || c.Upstream.RetryMinWaitSeconds != DefaultRetryMinWaitSeconds {
		t.Errorf("retry = %d..%d", c.Upstream.RetryMinWaitSeconds, c.Upstream.RetryMaxWaitSeconds)
	}
	if c.Pipeline.SlotCount != 12 {
		t.Errorf("slot count = %d", c.Pipeline.SlotCount)
	}
	want := "host=db port=5432 user=river password=pw dbname=river sslmode=disable"
	if c.Storage.Database.ConnectionString != want {
		t.Errorf("connection string = %q, want %q", c.Storage.Database.ConnectionString, want)
	}
	if c.Storage.InfluxDB != nil {
		t.Error("influxdb configured without INFLUXDB_URL")
	}
	if len(c.REST.CORSOrigins) != 2 || c.REST.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors origins = %v", c.REST.CORSOrigins)
	}
}

func TestEnvProviderBadNumber(t *testing.T) {
	t.Setenv("ASTROCAST_API_URL", "https://api.astrocast.com/v1")
	t.Setenv("ASTROCAST_API_KEY", "secret")
	t.Setenv("DB_URL", "host=db")
	t.Setenv("DEVICE_OUTPUT_RANGE", "lots")

	_, err := NewEnvProvider(emptyEnvFile(t)).LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "DEVICE_OUTPUT_RANGE") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnvProviderDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	body := "ASTROCAST_API_URL=https://api.astrocast.com/v1\nASTROCAST_API_KEY=fromfile\nDB_DRIVER=sqlite\nDB_NAME=river.db\n"
	if err := os.WriteFile(envFile, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	// register cleanup so values godotenv sets are removed afterwards
	for _, k := range []string{"ASTROCAST_API_URL", "ASTROCAST_API_KEY", "DB_DRIVER", "DB_NAME", "DB_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c, err := NewEnvProvider(envFile).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Upstream.APIKey != "fromfile" {
		t.Errorf("api key = %q", c.Upstream.APIKey)
	}
	if c.Storage.Database.ConnectionString != "river.db" {
		t.Errorf("sqlite path = %q", c.Storage.Database.ConnectionString)
	}
}

func TestEnvProviderMissingExplicitFile(t *testing.T) {
	t.Setenv("ASTROCAST_API_URL", "https://api.astrocast.com/v1")
	t.Setenv("ASTROCAST_API_KEY", "secret")
	t.Setenv("DB_URL", "host=db")

	missing := filepath.Join(t.TempDir(), "does-not-exist.env")
	_, err := NewEnvProvider(missing).LoadConfig()
	if err == nil {
		t.Fatal("expected an error for a missing env file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestEnvProviderImplicitDotEnvOptional(t *testing.T) {
	t.Setenv("ASTROCAST_API_URL", "https://api.astrocast.com/v1")
	t.Setenv("ASTROCAST_API_KEY", "secret")
	t.Setenv("DB_URL", "host=db")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if _, err := NewEnvProvider().LoadConfig(); err != nil {
		t.Fatalf("LoadConfig without ./.env: %v", err)
	}
}
