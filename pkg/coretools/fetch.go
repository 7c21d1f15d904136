package coretools

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const userAgent = "stepwise/1.0 (+https://github.com/harun/stepwise)"

// maxFetchBody caps how much of a third-party response is read.
const maxFetchBody = 4 << 20

// fetch sends req and returns the body of a 200 response. service names the
// remote in errors.
func fetch(client *http.Client, req *http.Request, service string) ([]byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %d: %s", service, resp.StatusCode, body)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", service, err)
	}
	return body, nil
}

// fetchJSON is fetch followed by a JSON decode into out.
func fetchJSON(client *http.Client, req *http.Request, service string, out any) error {
	req.Header.Set("Accept", "application/json")
	body, err := fetch(client, req, service)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", service, err)
	}
	return nil
}
