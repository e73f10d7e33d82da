package dianya

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxErrorBodySize = 64 << 10
	maxDuration      = time.Duration(math.MaxInt64)
)

// CreateSession asks the server for a new real-time transcription session.
func (c *Client) CreateSession(ctx context.Context, credential string, model ModelType) (*SessionDescriptor, error) {
	if credential == "" {
		return nil, NewError(ErrorKindInvalidInput, "credential is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if _, err := ParseModelType(string(model)); err != nil {
		return nil, err
	}

	body, err := json.Marshal(createSessionRequest{Model: model})
	if err != nil {
		return nil, NewErrorWithCause(ErrorKindOther, "failed to marshal session request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.RequestTimeout)
	defer cancel()

	var desc SessionDescriptor
	if err := c.do(ctx, http.MethodPost, c.endpoint("transcribe", "session"), credential, body, &desc); err != nil {
		return nil, err
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	c.logger.Info("session created", "task", desc.TaskID, "session", desc.SessionID, "model", model, "max_time", desc.MaxDurationSeconds)
	return &desc, nil
}

// CloseSession ends the session identified by taskID. A timeoutSeconds of
// zero uses ClientOptions.CloseTimeout; the call never blocks unbounded.
// Timeouts beyond the range of time.Duration are clamped to it.
func (c *Client) CloseSession(ctx context.Context, taskID, credential string, timeoutSeconds uint64) (*SessionCloseResult, error) {
	if taskID == "" {
		return nil, NewError(ErrorKindInvalidInput, "task id is required")
	}
	if credential == "" {
		return nil, NewError(ErrorKindInvalidInput, "credential is required")
	}

	timeout := c.options.CloseTimeout
	if timeoutSeconds > 0 {
		timeout = maxDuration
		if timeoutSeconds < uint64(maxDuration/time.Second) {
			timeout = time.Duration(timeoutSeconds) * time.Second
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.endpoint("transcribe", "session") + "?" + url.Values{"task_id": {taskID}}.Encode()

	var result SessionCloseResult
	if err := c.do(ctx, http.MethodDelete, endpoint, credential, nil, &result); err != nil {
		return nil, err
	}
	if result.Status == "" {
		return nil, NewError(ErrorKindInvalidResponse, "session close response is missing status")
	}

	c.logger.Info("session closed", "task", taskID, "status", result.Status)
	return &result, nil
}

func (c *Client) endpoint(parts ...string) string {
	return strings.TrimRight(c.options.BaseURL, "/") + "/" + strings.Join(parts, "/")
}

// do performs one JSON request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, endpoint, credential string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return NewErrorWithCause(ErrorKindInvalidInput, "failed to build request", err)
	}
	req.Header.Set("Authorization", authorization(credential))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.options.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewErrorWithCause(ErrorKindRequest, "request timed out", err)
		}
		return NewErrorWithCause(ErrorKindRequest, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		var apiErr apiErrorBody
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.text() != "" {
			message = apiErr.text()
		}
		c.logger.Warn("request rejected", "method", method, "status", resp.StatusCode, "message", message)
		return MapHTTPStatus(resp.StatusCode, message)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewErrorWithCause(ErrorKindRequest, "failed to read response", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewErrorWithCause(ErrorKindDecoding, "failed to parse response", err)
	}
	return nil
}

// authorization forwards the credential, adding the Bearer scheme to a bare token.
func authorization(credential string) string {
	if len(credential) > 7 && strings.EqualFold(credential[:7], "bearer ") {
		return credential
	}
	return "Bearer " + credential
}
