package restserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrissnell/riverapi/internal/astrocast"
	"github.com/chrissnell/riverapi/internal/database"
	"github.com/chrissnell/riverapi/internal/ingest"
	"github.com/chrissnell/riverapi/internal/payload"
	"github.com/chrissnell/riverapi/internal/poller"
	"github.com/chrissnell/riverapi/internal/positions"
	"github.com/chrissnell/riverapi/internal/storage"
	"github.com/chrissnell/riverapi/internal/types"
	"github.com/chrissnell/riverapi/pkg/config"
)

const knownDevice = "device-1"

var (
	stationID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	sensorID  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

type fakeIngestor struct {
	ingested []string
	lastHigh bool
}

func (f *fakeIngestor) result(raw string) (*ingest.Result, error) {
	frame, err := payload.Parse(raw)
	if err != nil {
		return nil, err
	}
	v := 1.5
	return &ingest.Result{
		Station:    types.Station{Identity: types.Identity{ID: stationID}},
		RecordedAt: frame.RecordedAt,
		Values:     frame.Values,
		Readings: []types.CorrectedReading{{
			StationID:      stationID,
			SensorID:       sensorID,
			Position:       1,
			RecordedAt:     frame.RecordedAt,
			RawValue:       frame.Values[0],
			CorrectedValue: &v,
			Status:         types.StatusOK,
		}},
	}, nil
}

func (f *fakeIngestor) IngestMessage(_ context.Context, msg types.RawMessage) (*ingest.Result, error) {
	raw, err := payload.DecodeData(msg.Data)
	if err != nil {
		return nil, err
	}
	f.ingested = append(f.ingested, msg.MessageGUID)
	return f.result(raw)
}

func (f *fakeIngestor) Preview(_ context.Context, deviceGUID, raw string, highResolution bool) (*ingest.Result, error) {
	if deviceGUID != knownDevice {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownStation, deviceGUID)
	}
	f.lastHigh = highResolution
	return f.result(raw)
}

type fakeResolver struct{}

func (fakeResolver) ResolvePositions(_ context.Context, id uuid.UUID, at time.Time) (positions.PositionMap, error) {
	return positions.PositionMap{
		StationID: id,
		At:        at,
		Slots: []positions.Slot{
			{Position: 1, State: positions.Occupied, SensorID: &sensorID},
			{Position: 2, State: positions.Unassigned},
		},
	}, nil
}

func (fakeResolver) History(_ context.Context, id uuid.UUID) ([]positions.Interval, error) {
	if id != sensorID {
		return nil, nil
	}
	return []positions.Interval{{StationID: stationID, Position: 1, From: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	messages map[string]types.RawMessage
	readings []types.CorrectedReading
	controls []types.ControlMessage
}

func (s *fakeStore) RawMessage(_ context.Context, guid string) (*types.RawMessage, error) {
	m, ok := s.messages[guid]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", database.ErrNotFound, guid)
	}
	return &m, nil
}

func (s *fakeStore) Station(_ context.Context, id uuid.UUID) (*types.Station, error) {
	if id != stationID {
		return nil, fmt.Errorf("%w: station %s", database.ErrNotFound, id)
	}
	return &types.Station{Identity: types.Identity{ID: id}}, nil
}

func (s *fakeStore) StationByDevice(_ context.Context, deviceGUID string) (*types.Station, error) {
	if deviceGUID != knownDevice {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownStation, deviceGUID)
	}
	return &types.Station{Identity: types.Identity{ID: stationID}}, nil
}

func (s *fakeStore) SensorReadings(_ context.Context, id uuid.UUID, from, to time.Time) ([]types.CorrectedReading, error) {
	var out []types.CorrectedReading
	for _, r := range s.readings {
		if r.SensorID == id && !r.RecordedAt.Before(from) && !r.RecordedAt.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveControlMessage(_ context.Context, m *types.ControlMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, *m)
	return nil
}

type fakeCatalog struct{}

func (fakeCatalog) Devices(context.Context) ([]astrocast.Device, error) {
	return []astrocast.Device{{DeviceGUID: knownDevice, Name: "river gauge"}}, nil
}

func (fakeCatalog) Device(_ context.Context, guid string) (*astrocast.Device, error) {
	if guid != knownDevice {
		return nil, &astrocast.StatusError{Method: "GET", Path: "/devices/" + guid, Code: http.StatusNotFound}
	}
	return &astrocast.Device{DeviceGUID: guid}, nil
}

func (fakeCatalog) DeviceSummaries(context.Context) ([]astrocast.DeviceSummary, error) {
	return nil, &astrocast.StatusError{Method: "GET", Path: "/devices/summary", Code: http.StatusInternalServerError}
}

type fakePoller struct{}

func (fakePoller) Status() poller.Status {
	return poller.Status{Polling: true, Interval: "1m0s", PollCount: 3}
}

const examplePayload = "15799968000445225100030027038822980099008105110000"

func newTestServer(t *testing.T) (*httptest.Server, *fakeIngestor, *fakeStore) {
	t.Helper()

	base := time.Date(2020, 1, 26, 0, 0, 0, 0, time.UTC)
	v1, v2 := 10.0, 20.0
	store := &fakeStore{
		messages: map[string]types.RawMessage{
			"msg-1":   {MessageGUID: "msg-1", DeviceGUID: knownDevice, Data: payload.EncodeData(examplePayload)},
			"msg-bad": {MessageGUID: "msg-bad", DeviceGUID: knownDevice, Data: "%%%"},
		},
		readings: []types.CorrectedReading{
			{SensorID: sensorID, RecordedAt: base, CorrectedValue: &v1, Status: types.StatusOK},
			{SensorID: sensorID, RecordedAt: base.Add(time.Hour), CorrectedValue: &v2, Status: types.StatusOK},
		},
	}
	ing := &fakeIngestor{}

	hm := storage.NewHealthManager()
	hm.UpdateHealth("database", storage.CreateHealthData(storage.StatusHealthy, "ok", nil))

	ctrl, err := NewController(context.Background(), &sync.WaitGroup{}, config.RESTServerData{EnableCORS: true}, Dependencies{
		Ingestor:        ing,
		Resolver:        fakeResolver{},
		Store:           store,
		Devices:         fakeCatalog{},
		Poller:          fakePoller{},
		Health:          hm,
		PersistReadings: true,
		HighResolution:  true,
	}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(ctrl.Handler())
	t.Cleanup(srv.Close)
	return srv, ing, store
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestEndpointStatuses(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", "GET", "/healthz", "", http.StatusOK},
		{"preview", "POST", "/v1/stationdata", `{"device_id":"device-1","raw":"` + examplePayload + `"}`, http.StatusOK},
		{"preview misaligned", "POST", "/v1/stationdata", `{"device_id":"device-1","raw":"157999680004452"}`, http.StatusBadRequest},
		{"preview bad timestamp", "POST", "/v1/stationdata", `{"device_id":"device-1","raw":"+579996800"}`, http.StatusBadRequest},
		{"preview unknown station", "POST", "/v1/stationdata", `{"device_id":"nope","raw":"` + examplePayload + `"}`, http.StatusUnprocessableEntity},
		{"preview missing raw", "POST", "/v1/stationdata", `{"device_id":"device-1"}`, http.StatusBadRequest},
		{"preview not json", "POST", "/v1/stationdata", `{`, http.StatusBadRequest},
		{"ingest", "POST", "/v1/messages/msg-1/ingest", "", http.StatusOK},
		{"ingest unknown message", "POST", "/v1/messages/missing/ingest", "", http.StatusNotFound},
		{"ingest undecodable", "POST", "/v1/messages/msg-bad/ingest", "", http.StatusBadRequest},
		{"positions", "GET", "/v1/stations/" + stationID.String() + "/positions?at=2020-01-26T00:00:00Z", "", http.StatusOK},
		{"positions bad at", "GET", "/v1/stations/" + stationID.String() + "/positions?at=yesterday", "", http.StatusBadRequest},
		{"positions bad id", "GET", "/v1/stations/xyz/positions", "", http.StatusBadRequest},
		{"positions unknown station", "GET", "/v1/stations/" + uuid.NewString() + "/positions", "", http.StatusNotFound},
		{"history", "GET", "/v1/sensors/" + sensorID.String() + "/history", "", http.StatusOK},
		{"summary inverted window", "GET", "/v1/sensors/" + sensorID.String() + "/summary?from=2020-01-27T00:00:00Z&to=2020-01-26T00:00:00Z", "", http.StatusBadRequest},
		{"poller status", "GET", "/v1/astrocast/status", "", http.StatusOK},
		{"devices", "GET", "/v1/astrocast/devices", "", http.StatusOK},
		{"device", "GET", "/v1/astrocast/devices/device-1", "", http.StatusOK},
		{"device missing upstream", "GET", "/v1/astrocast/devices/other", "", http.StatusNotFound},
		{"device summary upstream failure", "GET", "/v1/astrocast/devices/summary", "", http.StatusBadGateway},
		{"control message", "POST", "/v1/controlmessages", `{"device_guid":"device-1","payload":{"boot":true}}`, http.StatusCreated},
		{"control message no payload", "POST", "/v1/controlmessages", `{"device_guid":"device-1"}`, http.StatusBadRequest},
		{"wrong method", "GET", "/v1/stationdata", "", http.StatusMethodNotAllowed},
		{"wrong method on sensor route", "POST", "/v1/sensors/" + sensorID.String() + "/history", "", http.StatusMethodNotAllowed},
		{"wrong method on healthz", "POST", "/healthz", "", http.StatusMethodNotAllowed},
		{"unknown path", "GET", "/v1/nothing-here", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %v)", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestMethodNotAllowedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := do(t, "GET", srv.URL+"/v1/controlmessages", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}
	if body["status"] != float64(http.StatusMethodNotAllowed) {
		t.Errorf("status field = %v", body["status"])
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "GET") {
		t.Errorf("error = %q", msg)
	}
}

func TestPreviewResponse(t *testing.T) {
	srv, ing, _ := newTestServer(t)

	resp, body := do(t, "POST", srv.URL+"/v1/stationdata",
		`{"device_id":"device-1","raw":"`+examplePayload+`","high_resolution":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ing.lastHigh {
		t.Error("high_resolution=false was not passed through")
	}
	if body["persisted"] != false {
		t.Errorf("preview reported persisted = %v", body["persisted"])
	}
	if body["recorded_at"] != "2020-01-26T00:00:00Z" {
		t.Errorf("recorded_at = %v", body["recorded_at"])
	}
	values, _ := body["values"].([]interface{})
	if len(values) != 10 || values[0] != float64(445) {
		t.Errorf("values = %v", body["values"])
	}
}

func TestIngestMessage(t *testing.T) {
	srv, ing, _ := newTestServer(t)

	resp, body := do(t, "POST", srv.URL+"/v1/messages/msg-1/ingest", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(ing.ingested) != 1 || ing.ingested[0] != "msg-1" {
		t.Errorf("ingested = %v", ing.ingested)
	}
	if body["persisted"] != true {
		t.Errorf("persisted = %v", body["persisted"])
	}
}

func TestSensorSummary(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := do(t, "GET", srv.URL+"/v1/sensors/"+sensorID.String()+
		"/summary?from=2020-01-25T00:00:00Z&to=2020-01-27T00:00:00Z", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["count"] != float64(2) || body["mean"] != float64(15) {
		t.Errorf("summary = %v", body)
	}
}

func TestControlMessageStored(t *testing.T) {
	srv, _, store := newTestServer(t)

	tests := []struct {
		device      string
		wantStation bool
	}{
		{knownDevice, true},
		{"unregistered", false},
	}
	for _, tt := range tests {
		resp, _ := do(t, "POST", srv.URL+"/v1/controlmessages",
			`{"device_guid":"`+tt.device+`","received_at":"2020-01-26T00:00:00Z","payload":{"firmware":"1.2"}}`)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("%s: status = %d", tt.device, resp.StatusCode)
		}
	}

	if len(store.controls) != 2 {
		t.Fatalf("stored %d control messages", len(store.controls))
	}
	for i, tt := range tests {
		m := store.controls[i]
		if (m.StationID != nil) != tt.wantStation {
			t.Errorf("%s: station = %v", tt.device, m.StationID)
		}
		if string(m.Payload) != `{"firmware":"1.2"}` {
			t.Errorf("%s: payload = %s", tt.device, m.Payload)
		}
	}
}

func TestMsgPackAndCORS(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req, _ := http.NewRequest("GET", srv.URL+"/v1/astrocast/status?format=msgpack", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-msgpack" {
		t.Errorf("content type = %q", ct)
	}
	if o := resp.Header.Get("Access-Control-Allow-Origin"); o != "*" {
		t.Errorf("allow origin = %q", o)
	}
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	_, err := NewController(context.Background(), &sync.WaitGroup{}, config.RESTServerData{}, Dependencies{}, zap.NewNop().Sugar())
	if err == nil {
		t.Fatal("expected an error without dependencies")
	}
}
