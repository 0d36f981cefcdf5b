package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/rescp17/callKit/pkg/call"
)

// DeviceRegistrar registers this client as a device with the cloud
// backend. Registration is idempotent per registrar: the first successful
// Register is cached and returned to later callers.
type DeviceRegistrar struct {
	client   *Client
	deviceID string

	mu     sync.Mutex
	device *call.DeviceInfo
}

// NewDeviceRegistrar creates a registrar on top of an API client.
func NewDeviceRegistrar(client *Client) *DeviceRegistrar {
	return &DeviceRegistrar{
		client:   client,
		deviceID: uuid.NewString(),
	}
}

type registerPayload struct {
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
}

type registerResponse struct {
	URL string `json:"url"`
}

// Register ensures a device registration exists and returns it.
func (r *DeviceRegistrar) Register(ctx context.Context) (call.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil {
		return *r.device, nil
	}

	payload := registerPayload{DeviceID: r.deviceID, DeviceType: "GO_SDK"}
	data, err := jsonBody(payload)
	if err != nil {
		return call.DeviceInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.client.baseURL+"/devices", data)
	if err != nil {
		return call.DeviceInfo{}, fmt.Errorf("failed to create register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.HTTPClient.Do(req)
	if err != nil {
		return call.DeviceInfo{}, fmt.Errorf("device registration failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return call.DeviceInfo{}, fmt.Errorf("device registration responded %s", resp.Status)
	}

	var reg registerResponse
	if err := decodeJSON(resp.Body, &reg); err != nil {
		return call.DeviceInfo{}, err
	}

	dev := call.DeviceInfo{URL: reg.URL}
	r.device = &dev
	r.client.log.Info().Str("device_url", dev.URL).Msg("device registered")
	return dev, nil
}

var _ call.Registrar = (*DeviceRegistrar)(nil)
