package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UploadError describes a failed publish call, in the same status-vs-transport
// shape as SubmitError. Unlike a submission, a publish may be retried with
// the same job id after a failure.
type UploadError struct {
	Status    int
	Body      string
	Transport bool
	Err       error
}

func (e *UploadError) Error() string {
	if e.Transport {
		return fmt.Sprintf("publish transport failure: %v", e.Err)
	}
	return fmt.Sprintf("publish rejected: status %d: %s", e.Status, e.Body)
}

func (e *UploadError) Unwrap() error { return e.Err }

// AsUploadError unwraps err into an *UploadError, if it is one.
func AsUploadError(err error) (*UploadError, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// PublisherClient pushes a finished, qualifying analysis to the external host.
type PublisherClient struct {
	baseURL string
	client  *http.Client
}

// NewPublisherClient creates a client with the given per-call bound.
func NewPublisherClient(baseURL string, timeout time.Duration) *PublisherClient {
	return &PublisherClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type publishRequest struct {
	AnalysisID string `json:"analysisId"`
}

type publishResponse struct {
	TargetLink string `json:"targetLink"`
}

// Publish asks the secondary endpoint to host the artifact for the given job
// and returns the resulting link.
func (c *PublisherClient) Publish(ctx context.Context, jobID string) (string, error) {
	body, err := json.Marshal(publishRequest{AnalysisID: jobID})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/publish", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UploadError{Transport: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &UploadError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.TargetLink == "" {
		return "", fmt.Errorf("publisher returned no target link")
	}

	return out.TargetLink, nil
}
