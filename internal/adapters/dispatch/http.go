// Package dispatch provides the HTTP adapter handing merged per-recipient
// requests to the downstream delivery pipeline.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/herald-notify/herald/internal/domain/bulk"
)

const (
	defaultMessageIDPath = "messageId"
	maxResponseBodyBytes = 16 * 1024
)

// HTTPDispatcherOptions configures the HTTP dispatch adapter.
type HTTPDispatcherOptions struct {
	Endpoint string // Required: dispatch service submit URL
	APIToken string // Optional: bearer token for the dispatch service

	// MessageIDPath is the JMESPath expression locating the assigned message
	// id in the response body. Defaults to "messageId".
	MessageIDPath string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPDispatcher submits merged dispatch requests to the delivery pipeline
// over HTTP. Delivery-level retries are the pipeline's concern; this adapter
// reports a submission as accepted or failed exactly once.
type HTTPDispatcher struct {
	endpoint string
	apiToken string
	pathExpr jmespath.JMESPath
	http     *http.Client
	logger   *slog.Logger
}

// NewHTTPDispatcher constructs the adapter, compiling the message-id
// extraction expression up front so a bad expression fails at startup.
func NewHTTPDispatcher(opts HTTPDispatcherOptions) (*HTTPDispatcher, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("dispatch endpoint is required")
	}

	path := opts.MessageIDPath
	if path == "" {
		path = defaultMessageIDPath
	}
	expr, err := jmespath.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile message id path %q: %w", path, err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dispatcher")
	}

	return &HTTPDispatcher{
		endpoint: opts.Endpoint,
		apiToken: opts.APIToken,
		pathExpr: expr,
		http:     hc,
		logger:   logger,
	}, nil
}

// Submit posts one merged request and returns the message id the delivery
// pipeline assigned to it.
func (d *HTTPDispatcher) Submit(ctx context.Context, req *bulk.DispatchRequest) (string, error) {
	if req == nil {
		return "", errors.New("dispatch request is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.apiToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiToken)
	}
	if req.DryRunKey != nil {
		httpReq.Header.Set("X-Dry-Run-Key", *req.DryRunKey)
	}

	resp, err := d.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send dispatch request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read dispatch response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("dispatch rejected: status %d", resp.StatusCode)
	}

	return d.extractMessageID(respBody)
}

func (d *HTTPDispatcher) extractMessageID(body []byte) (string, error) {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode dispatch response: %w", err)
	}

	value, err := d.pathExpr.Search(parsed)
	if err != nil {
		return "", fmt.Errorf("extract message id: %w", err)
	}
	id, ok := value.(string)
	if !ok || id == "" {
		return "", errors.New("dispatch response missing message id")
	}
	return id, nil
}
