package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ScanSummary is the scanner's finding counts for one image.
type ScanSummary struct {
	Critical int    `json:"critical"`
	High     int    `json:"high"`
	Medium   int    `json:"medium"`
	Detail   string `json:"detail,omitempty"`
}

// ScannerClient queries the vulnerability scanner for an image's findings.
type ScannerClient struct {
	baseURL string
	client  *http.Client
}

func NewScannerClient(baseURL string) *ScannerClient {
	return &ScannerClient{baseURL: baseURL, client: &http.Client{Timeout: 60 * time.Second}}
}

// Scan fetches finding counts for the given image reference.
func (s *ScannerClient) Scan(ctx context.Context, imageRef string) (*ScanSummary, error) {
	endpoint := s.baseURL + "/v1/scan?image=" + url.QueryEscape(imageRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach scanner: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scanner status %d: %s", resp.StatusCode, string(body))
	}
	var sum ScanSummary
	if err := json.Unmarshal(body, &sum); err != nil {
		return nil, fmt.Errorf("failed to parse scan response: %w", err)
	}
	return &sum, nil
}
