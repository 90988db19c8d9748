package client

import (
	"context"
	"net/http"

	"github.com/LeventeLantos/outreach-engine/internal/model"
)

// TrackerClient talks to the backend service that owns tracker records.
type TrackerClient struct {
	http jsonClient
}

func NewTrackerClient(baseURL, apiKey string) *TrackerClient {
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &TrackerClient{http: newJSONClient(baseURL, headers)}
}

type trackResponse struct {
	TrackerID string `json:"trackerId"`
}

type providersRequest struct {
	ProviderIDs []string `json:"providerIds"`
}

type statusResponse struct {
	Items []model.TrackerStatus `json:"items"`
}

// Track creates a tracker for a successful send. The returned id is empty
// when the service accepted the request without assigning one.
func (c *TrackerClient) Track(ctx context.Context, req model.TrackRequest) (string, error) {
	var out trackResponse
	if err := c.http.post(ctx, "/track", req, &out, http.StatusOK, http.StatusCreated); err != nil {
		return "", err
	}
	return out.TrackerID, nil
}

func (c *TrackerClient) StatusByProviders(ctx context.Context, providerIDs []string) ([]model.TrackerStatus, error) {
	var out statusResponse
	if err := c.http.post(ctx, "/status-by-providers", providersRequest{ProviderIDs: providerIDs}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SyncConnections asks the backend to re-check connection state against
// the provider before statuses are read.
func (c *TrackerClient) SyncConnections(ctx context.Context, providerIDs []string) error {
	return c.http.post(ctx, "/sync-connections-from-linkedin", providersRequest{ProviderIDs: providerIDs}, nil, http.StatusOK, http.StatusAccepted)
}
