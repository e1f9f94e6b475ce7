// Package rewrite provides the client for the external repository
// rewrite worker.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TransferRequest is the payload submitted to the rewrite worker. The
// transfer record identifier is included so the worker can update the
// record out-of-band.
type TransferRequest struct {
	TransferID        string   `json:"transferId"`
	SourceRepo        string   `json:"source_repo"`
	DestRepo          string   `json:"dest_repo"`
	OriginalDestRepo  string   `json:"originalDestRepo"`
	StartDate         string   `json:"start_date"`
	EndDate           string   `json:"end_date"`
	KeepOriginalDates bool     `json:"keep_original_dates"`
	Contributors      []string `json:"contributors"`
	UserID            string   `json:"userId"`
	UserName          string   `json:"userName"`
}

// SubmitError reports a non-2xx response from the rewrite worker,
// preserving the worker's error payload when one was returned.
type SubmitError struct {
	StatusCode int
	Payload    json.RawMessage
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("rewrite worker returned status %d", e.StatusCode)
}

// Client encapsulates HTTP interaction with the rewrite worker.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the rewrite worker at the given address.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Submit posts a transfer request to the rewrite worker. A transport
// failure is returned as a wrapped error; a non-2xx response as a
// *SubmitError carrying the worker's payload.
func (c *Client) Submit(ctx context.Context, req *TransferRequest) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("rewrite worker client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/rewrite-repo", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if !json.Valid(payload) {
			payload = nil
		}
		return &SubmitError{
			StatusCode: resp.StatusCode,
			Payload:    payload,
		}
	}

	return nil
}
