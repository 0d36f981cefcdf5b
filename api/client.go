// Package api provides the default HTTP implementations of the call
// controller's collaborators: the locus session service, device
// registration, the push event feed, and feedback submission.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/rescp17/callKit/pkg/call"
	"github.com/rescp17/callKit/pkg/locus"
)

const authHeader = "Authorization"

// authInjector is a client-side middleware: a custom http.RoundTripper
// that stamps the bearer token onto every outgoing request.
type authInjector struct {
	token string
	next  http.RoundTripper
}

func (t *authInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set(authHeader, "Bearer "+t.token)
	return t.next.RoundTrip(req)
}

// Client is a stateless HTTP client for the locus session service. It
// implements call.SessionService.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewClient creates an API client rooted at baseURL, configured to inject
// the given bearer token into each request.
func NewClient(baseURL, token string) *Client {
	transport := &authInjector{
		token: token,
		next:  http.DefaultTransport,
	}
	return &Client{
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		baseURL: baseURL,
		log:     zlog.With().Str("module", "api").Logger(),
	}
}

type joinPayload struct {
	Invitee       string `json:"invitee,omitempty"`
	Offer         string `json:"offer"`
	CorrelationID string `json:"correlationId"`
	DeviceURL     string `json:"deviceUrl"`
}

type participantPayload struct {
	DeviceURL string `json:"deviceUrl"`
}

type mediaPayload struct {
	MediaID     string `json:"mediaId"`
	Offer       string `json:"offer,omitempty"`
	AudioStatus string `json:"audioStatus,omitempty"`
	VideoStatus string `json:"videoStatus,omitempty"`
	DeviceURL   string `json:"deviceUrl"`
}

type locusEnvelope struct {
	Locus *locus.Locus `json:"locus"`
}

// Create starts a new session calling the invitee with the local offer.
func (c *Client) Create(ctx context.Context, invitee string, req call.JoinRequest) (*locus.Locus, error) {
	payload := joinPayload{
		Invitee:       invitee,
		Offer:         req.OfferSDP,
		CorrelationID: req.CorrelationID,
		DeviceURL:     req.DeviceURL,
	}
	return c.roundTrip(ctx, http.MethodPost, c.baseURL+"/loci/call", payload)
}

// Join adds this device to an existing session.
func (c *Client) Join(ctx context.Context, l *locus.Locus, req call.JoinRequest) (*locus.Locus, error) {
	payload := joinPayload{
		Offer:         req.OfferSDP,
		CorrelationID: req.CorrelationID,
		DeviceURL:     req.DeviceURL,
	}
	return c.roundTrip(ctx, http.MethodPost, l.URL+"/participant", payload)
}

// Get fetches the full current session document.
func (c *Client) Get(ctx context.Context, l *locus.Locus) (*locus.Locus, error) {
	return c.roundTrip(ctx, http.MethodGet, l.URL, nil)
}

// Leave removes this device from the session.
func (c *Client) Leave(ctx context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error) {
	return c.roundTrip(ctx, http.MethodPut, l.URL+"/participant/leave", participantPayload{DeviceURL: deviceURL})
}

// Decline rejects the session without joining.
func (c *Client) Decline(ctx context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error) {
	return c.roundTrip(ctx, http.MethodPut, l.URL+"/participant/decline", participantPayload{DeviceURL: deviceURL})
}

// Alert tells the session this device is alerting the user.
func (c *Client) Alert(ctx context.Context, l *locus.Locus, deviceURL string) (*locus.Locus, error) {
	return c.roundTrip(ctx, http.MethodPut, l.URL+"/participant/alert", participantPayload{DeviceURL: deviceURL})
}

// UpdateMedia pushes a renegotiation offer or updated mute flags for an
// established media session.
func (c *Client) UpdateMedia(ctx context.Context, l *locus.Locus, upd call.MediaUpdate) (*locus.Locus, error) {
	payload := mediaPayload{
		MediaID:     upd.MediaID,
		Offer:       upd.OfferSDP,
		AudioStatus: upd.AudioStatus,
		VideoStatus: upd.VideoStatus,
		DeviceURL:   upd.DeviceURL,
	}
	return c.roundTrip(ctx, http.MethodPut, l.URL+"/media", payload)
}

func (c *Client) roundTrip(ctx context.Context, method, url string, payload any) (*locus.Locus, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Str("method", method).Str("url", url).Int("status", resp.StatusCode).
			Msg("session service returned non-OK status")
		return nil, fmt.Errorf("session service responded %s for %s %s", resp.Status, method, url)
	}

	var env locusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode session document: %w", err)
	}
	if env.Locus == nil {
		return nil, fmt.Errorf("session service returned no document for %s %s", method, url)
	}
	return env.Locus, nil
}

var _ call.SessionService = (*Client)(nil)
