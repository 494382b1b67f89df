package restserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/chrissnell/riverapi/internal/astrocast"
	"github.com/chrissnell/riverapi/internal/database"
	"github.com/chrissnell/riverapi/internal/ingest"
	"github.com/chrissnell/riverapi/internal/payload"
	"github.com/chrissnell/riverapi/internal/poller"
	"github.com/chrissnell/riverapi/internal/positions"
	"github.com/chrissnell/riverapi/internal/summary"
	"github.com/chrissnell/riverapi/internal/types"
	"github.com/chrissnell/riverapi/pkg/responseformat"
)

const (
	// backends that have not reported within this window count as unhealthy
	healthMaxAge = 2 * time.Minute

	defaultSummaryWindow = 24 * time.Hour
	maxBodyBytes         = 1 << 20
)

var validate = validator.New()

// Handlers contains the HTTP handlers for the REST API
type Handlers struct {
	deps      Dependencies
	formatter *responseformat.Formatter
	logger    *zap.SugaredLogger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, formatter *responseformat.Formatter, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{
		deps:      deps,
		formatter: formatter,
		logger:    logger,
	}
}

// sendJSON sends a 200 response in the negotiated format
func (h *Handlers) sendJSON(w http.ResponseWriter, r *http.Request, data interface{}) {
	h.sendJSONWithStatus(w, r, http.StatusOK, data)
}

// sendJSONWithStatus sends a response with a specific status code
func (h *Handlers) sendJSONWithStatus(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	if err := h.formatter.WriteResponse(w, r, statusCode, data); err != nil {
		h.logger.Errorf("error writing response: %v", err)
	}
}

// sendError sends an error response
func (h *Handlers) sendError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().Unix(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
	}

	h.sendJSONWithStatus(w, r, statusCode, errorResponse)
}

// sendPipelineError maps pipeline errors onto HTTP statuses
func (h *Handlers) sendPipelineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("%s: %v", message, err)
	}
	h.sendError(w, r, status, message, err)
}

func statusFor(err error) int {
	var upstream *astrocast.StatusError
	switch {
	case errors.Is(err, payload.ErrMalformedTimestamp),
		errors.Is(err, payload.ErrMisalignedPayload),
		errors.Is(err, payload.ErrUndecodable):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrUnknownStation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &upstream):
		if upstream.Code == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into dst and validates it
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}

// queryTime parses an RFC3339 query parameter, returning def when absent
func queryTime(r *http.Request, name string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func newIngestResponse(res *ingest.Result, persisted bool) IngestResponse {
	readings := res.Readings
	if readings == nil {
		readings = []types.CorrectedReading{}
	}
	return IngestResponse{
		StationID:  res.Station.ID,
		RecordedAt: res.RecordedAt,
		Values:     res.Values,
		Readings:   readings,
		Persisted:  persisted,
	}
}

// MethodNotAllowed answers requests whose path exists under another method
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.sendError(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), nil)
}

// NotFound answers requests for unknown paths
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.sendError(w, r, http.StatusNotFound, "not found", nil)
}

// GetHealth reports backend health and the poller state
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC(),
	}

	if h.deps.Health != nil {
		resp.Backends = h.deps.Health.GetAllHealth()
		if !h.deps.Health.AllHealthy(healthMaxAge) {
			resp.Status = "degraded"
		}
	}
	if h.deps.Poller != nil {
		st := h.deps.Poller.Status()
		resp.Poller = &st
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	h.sendJSONWithStatus(w, r, status, resp)
}

// PreviewStationData decodes and calibrates a raw payload without storing it
func (h *Handlers) PreviewStationData(w http.ResponseWriter, r *http.Request) {
	var req StationDataRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	highRes := h.deps.HighResolution
	if req.HighResolution != nil {
		highRes = *req.HighResolution
	}

	res, err := h.deps.Ingestor.Preview(r.Context(), req.DeviceID, req.Raw, highRes)
	if err != nil {
		h.sendPipelineError(w, r, "Could not process station data", err)
		return
	}

	h.sendJSON(w, r, newIngestResponse(res, false))
}

// IngestMessage runs a stored raw message through the pipeline
func (h *Handlers) IngestMessage(w http.ResponseWriter, r *http.Request) {
	guid := mux.Vars(r)["message_guid"]

	msg, err := h.deps.Store.RawMessage(r.Context(), guid)
	if err != nil {
		h.sendPipelineError(w, r, "Could not load message", err)
		return
	}

	res, err := h.deps.Ingestor.IngestMessage(r.Context(), *msg)
	if err != nil {
		h.sendPipelineError(w, r, "Could not ingest message", err)
		return
	}

	h.sendJSON(w, r, newIngestResponse(res, h.deps.PersistReadings))
}

// CreateControlMessage stores a station control message
func (h *Handlers) CreateControlMessage(w http.ResponseWriter, r *http.Request) {
	var req ControlMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m := types.ControlMessage{
		DeviceGUID:  req.DeviceGUID,
		MessageGUID: req.MessageGUID,
		ReceivedAt:  time.Now().UTC(),
		Payload:     datatypes.JSON(req.Payload),
	}
	if req.ReceivedAt != nil {
		m.ReceivedAt = req.ReceivedAt.UTC()
	}

	station, err := h.deps.Store.StationByDevice(r.Context(), req.DeviceGUID)
	switch {
	case err == nil && station != nil:
		m.StationID = &station.ID
	case err != nil && !errors.Is(err, ingest.ErrUnknownStation):
		h.sendPipelineError(w, r, "Could not look up station", err)
		return
	}

	if err := h.deps.Store.SaveControlMessage(r.Context(), &m); err != nil {
		h.sendPipelineError(w, r, "Could not store control message", err)
		return
	}

	h.sendJSONWithStatus(w, r, http.StatusCreated, m)
}

// GetStationPositions returns the position map of a station at ?at= (default now)
func (h *Handlers) GetStationPositions(w http.ResponseWriter, r *http.Request) {
	stationID, err := pathUUID(r, "station_id")
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid station ID", err)
		return
	}
	at, err := queryTime(r, "at", time.Now().UTC())
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid at parameter; expected RFC3339", err)
		return
	}

	if _, err := h.deps.Store.Station(r.Context(), stationID); err != nil {
		h.sendPipelineError(w, r, "Could not load station", err)
		return
	}

	m, err := h.deps.Resolver.ResolvePositions(r.Context(), stationID, at)
	if err != nil {
		h.sendPipelineError(w, r, "Could not resolve positions", err)
		return
	}

	h.sendJSON(w, r, m)
}

// GetSensorHistory returns every installation interval of a sensor, newest first
func (h *Handlers) GetSensorHistory(w http.ResponseWriter, r *http.Request) {
	sensorID, err := pathUUID(r, "sensor_id")
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid sensor ID", err)
		return
	}

	intervals, err := h.deps.Resolver.History(r.Context(), sensorID)
	if err != nil {
		h.sendPipelineError(w, r, "Could not load sensor history", err)
		return
	}
	if intervals == nil {
		intervals = []positions.Interval{}
	}

	h.sendJSON(w, r, HistoryResponse{SensorID: sensorID, Intervals: intervals})
}

// GetSensorSummary summarizes the corrected readings of a sensor over
// [from, to]. The window defaults to the last 24 hours.
func (h *Handlers) GetSensorSummary(w http.ResponseWriter, r *http.Request) {
	sensorID, err := pathUUID(r, "sensor_id")
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid sensor ID", err)
		return
	}

	to, err := queryTime(r, "to", time.Now().UTC())
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid to parameter; expected RFC3339", err)
		return
	}
	from, err := queryTime(r, "from", to.Add(-defaultSummaryWindow))
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid from parameter; expected RFC3339", err)
		return
	}
	if from.After(to) {
		h.sendError(w, r, http.StatusBadRequest, "from must not be after to", nil)
		return
	}

	readings, err := h.deps.Store.SensorReadings(r.Context(), sensorID, from, to)
	if err != nil {
		h.sendPipelineError(w, r, "Could not load readings", err)
		return
	}

	h.sendJSON(w, r, summary.Summarize(sensorID, from, to, readings))
}

// GetPollerStatus reports the message poller state
func (h *Handlers) GetPollerStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Poller == nil {
		h.sendJSON(w, r, poller.Status{})
		return
	}
	h.sendJSON(w, r, h.deps.Poller.Status())
}

// GetDevices lists the provider's devices
func (h *Handlers) GetDevices(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w, r) {
		return
	}
	devices, err := h.deps.Devices.Devices(r.Context())
	if err != nil {
		h.sendPipelineError(w, r, "Could not list devices", err)
		return
	}
	h.sendJSON(w, r, devices)
}

// GetDeviceSummaries returns the provider's per-device activity summary
func (h *Handlers) GetDeviceSummaries(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w, r) {
		return
	}
	summaries, err := h.deps.Devices.DeviceSummaries(r.Context())
	if err != nil {
		h.sendPipelineError(w, r, "Could not load device summaries", err)
		return
	}
	h.sendJSON(w, r, summaries)
}

// GetDevice returns a single device
func (h *Handlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w, r) {
		return
	}
	device, err := h.deps.Devices.Device(r.Context(), mux.Vars(r)["device_id"])
	if err != nil {
		h.sendPipelineError(w, r, "Could not load device", err)
		return
	}
	h.sendJSON(w, r, device)
}

func (h *Handlers) requireCatalog(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Devices == nil {
		h.sendError(w, r, http.StatusServiceUnavailable, "Device catalog is not configured", nil)
		return false
	}
	return true
}
