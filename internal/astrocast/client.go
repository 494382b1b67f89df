// Package astrocast is a client for the satellite messaging provider's REST API.
package astrocast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// StartDateLayout is the format the API expects for startReceivedDate
const StartDateLayout = "2006-01-02T15:04:05Z"

// StatusError is returned for any non-2xx response
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Timestamp accepts the API's timestamps with or without a zone. Zone-less
// values are UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Message is one uplink message as returned by GET /messages
type Message struct {
	MessageGUID            string    `json:"messageGuid"`
	DeviceGUID             string    `json:"deviceGuid"`
	CreatedDate            Timestamp `json:"createdDate"`
	ReceivedDate           Timestamp `json:"receivedDate"`
	Latitude               float64   `json:"latitude"`
	Longitude              float64   `json:"longitude"`
	Data                   string    `json:"data"`
	MessageSize            int       `json:"messageSize"`
	CallbackDeliveryStatus string    `json:"callbackDeliveryStatus"`
}

// Device is a terminal registered with the provider
type Device struct {
	DeviceGUID     string    `json:"deviceGuid"`
	Name           string    `json:"name"`
	DeviceTypeID   int       `json:"deviceTypeId"`
	DeviceTypeName string    `json:"deviceTypeName,omitempty"`
	CreatedDate    Timestamp `json:"createdDate"`
	LastLatitude   *float64  `json:"lastLatitude,omitempty"`
	LastLongitude  *float64  `json:"lastLongitude,omitempty"`
}

// DeviceSummary is an entry of GET /devices/summary
type DeviceSummary struct {
	DeviceGUID          string    `json:"deviceGuid"`
	Name                string    `json:"name"`
	LastMessageDate     Timestamp `json:"lastMessageDate"`
	LastLatitude        *float64  `json:"lastLatitude,omitempty"`
	LastLongitude       *float64  `json:"lastLongitude,omitempty"`
	MessagesLast24Hours int       `json:"messagesLast24Hours"`
}

// DeviceType is an entry of GET /enums/devicetypes
type DeviceType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Client talks to the provider API
type Client struct {
	http *resty.Client

	mu          sync.RWMutex
	deviceTypes map[int]string
}

// NewClient creates a client for the API at baseURL authenticating with apiKey
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("X-Api-Key", apiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Client{http: http}
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return &StatusError{Method: "GET", Path: path, Code: resp.StatusCode(), Body: truncate(resp.String(), 256)}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("error decoding %s response: %w", path, err)
	}
	return nil
}

// Messages fetches uplink messages. When since is non-nil only messages received
// at or after it (to the second) are requested.
func (c *Client) Messages(ctx context.Context, since *time.Time) ([]Message, error) {
	var query map[string]string
	if since != nil {
		query = map[string]string{"startReceivedDate": since.UTC().Format(StartDateLayout)}
	}

	var msgs []Message
	if err := c.get(ctx, "/messages", query, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeviceTypes fetches the device type catalog and caches its names
func (c *Client) DeviceTypes(ctx context.Context) ([]DeviceType, error) {
	var types []DeviceType
	if err := c.get(ctx, "/enums/devicetypes", nil, &types); err != nil {
		return nil, err
	}

	names := make(map[int]string, len(types))
	for _, t := range types {
		names[t.ID] = t.Name
	}
	c.mu.Lock()
	c.deviceTypes = names
	c.mu.Unlock()

	return types, nil
}

func (c *Client) enrich(ctx context.Context, devices []Device) {
	c.mu.RLock()
	names := c.deviceTypes
	c.mu.RUnlock()

	if names == nil {
		// best effort; devices are still returned without type names
		if _, err := c.DeviceTypes(ctx); err != nil {
			return
		}
		c.mu.RLock()
		names = c.deviceTypes
		c.mu.RUnlock()
	}

	for i := range devices {
		devices[i].DeviceTypeName = names[devices[i].DeviceTypeID]
	}
}

// Devices lists every registered device
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.get(ctx, "/devices", nil, &devices); err != nil {
		return nil, err
	}
	c.enrich(ctx, devices)
	return devices, nil
}

// Device fetches one device
func (c *Client) Device(ctx context.Context, deviceGUID string) (*Device, error) {
	var d Device
	if err := c.get(ctx, "/devices/"+deviceGUID, nil, &d); err != nil {
		return nil, err
	}
	devices := []Device{d}
	c.enrich(ctx, devices)
	return &devices[0], nil
}

// DeviceSummaries fetches the per-device activity summary
func (c *Client) DeviceSummaries(ctx context.Context) ([]DeviceSummary, error) {
	var summaries []DeviceSummary
	if err := c.get(ctx, "/devices/summary", nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
