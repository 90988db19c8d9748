package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

type jsonClient struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

func newJSONClient(baseURL string, headers map[string]string) jsonClient {
	return jsonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// post sends in as JSON to path and decodes the response into out when out
// is non-nil. Any status outside ok is an error carrying the body.
func (c jsonClient) post(ctx context.Context, path string, in, out any, ok ...int) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if !slices.Contains(ok, resp.StatusCode) {
		return fmt.Errorf("%s: unexpected status code: %d body=%q", path, resp.StatusCode, string(body))
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to decode json: %w body=%q", path, err, string(body))
	}
	return nil
}
