// Package remote contains the HTTP clients for the two endpoints the engine
// talks to: the analyzer that processes submissions and the publisher that
// hosts qualifying artifacts. Neither client retries; retry policy, if any,
// belongs to the caller.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of an error response body is retained for
// diagnostics.
const maxErrorBody = 4 << 10

// SubmitError describes a failed submission. Either Status carries the
// non-success HTTP status (with Body holding the raw response text), or
// Transport is true and no response was received at all.
type SubmitError struct {
	Status    int
	Body      string
	Transport bool
	Err       error
}

func (e *SubmitError) Error() string {
	if e.Transport {
		return fmt.Sprintf("submit transport failure: %v", e.Err)
	}
	return fmt.Sprintf("submit rejected: status %d: %s", e.Status, e.Body)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// AnalyzerClient submits analysis jobs to the remote processing endpoint.
type AnalyzerClient struct {
	baseURL string
	client  *http.Client
}

// NewAnalyzerClient creates a client with the given per-call bound. The bound
// must cover a full large-payload upload; the reference deployment uses 10
// minutes.
func NewAnalyzerClient(baseURL string, timeout time.Duration) *AnalyzerClient {
	return &AnalyzerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit hands the payload and its client-generated job id to the analyzer.
// Exactly one remote call is made per invocation. The job id must be unique
// and not previously submitted; reuse is a caller bug. A non-success response
// or transport failure is returned as a *SubmitError.
func (c *AnalyzerClient) Submit(ctx context.Context, jobID, fileName string, payload io.Reader) error {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("analysisId", jobID); err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	if _, err := io.Copy(part, payload); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("encode form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return &SubmitError{Transport: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &SubmitError{Status: resp.StatusCode, Body: string(raw)}
	}

	return nil
}

// AsSubmitError unwraps err into a *SubmitError, if it is one.
func AsSubmitError(err error) (*SubmitError, bool) {
	var se *SubmitError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
