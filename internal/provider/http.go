package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

// Options configures an HTTPClient.
type Options struct {
	BaseURL      string
	APIKey       string
	Kind         domain.Kind
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// HTTPClient drives a long-running generation on the external provider:
// submit the payload, then poll the returned operation until it settles.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	kind         domain.Kind
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewHTTPClient constructs a client with sane defaults.
func NewHTTPClient(opts Options) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the worker's ctx; this timeout only
		// bounds a single HTTP exchange.
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		kind:         opts.Kind,
		pollInterval: pollInterval,
		httpClient:   httpClient,
	}
}

func (c *HTTPClient) Kind() domain.Kind { return c.kind }

type submitRequest struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	InputRef string          `json:"input_ref,omitempty"`
}

type submitResponse struct {
	OperationID string `json:"operation_id"`
}

type operationResponse struct {
	State       string `json:"state"` // running | succeeded | failed
	Progress    int    `json:"progress"`
	Result      string `json:"result,omitempty"` // base64 artifact bytes
	ContentType string `json:"content_type,omitempty"`
	Error       struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// Generate submits the job and polls the operation until it succeeds, fails
// or ctx expires. Progress reported by the provider is forwarded through
// onProgress.
func (c *HTTPClient) Generate(ctx context.Context, job *domain.GenerationJob, onProgress func(int)) (*Result, error) {
	ctx, span := otel.Tracer("provider").Start(ctx, "provider.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
	)

	opID, err := c.submit(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("provider.operation_id", opID))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err := &Error{Code: CodeTimeout, Message: "generation timed out: " + ctx.Err().Error(), Retryable: true}
			span.RecordError(err)
			span.SetStatus(codes.Error, "timeout")
			return nil, err
		case <-ticker.C:
		}

		op, err := c.pollOperation(ctx, opID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll failed")
			return nil, err
		}

		switch op.State {
		case "succeeded":
			data, err := base64.StdEncoding.DecodeString(op.Result)
			if err != nil {
				return nil, &Error{Code: CodeRejected, Message: "undecodable provider result: " + err.Error(), Retryable: false}
			}
			if onProgress != nil {
				onProgress(100)
			}
			return &Result{Data: data, ContentType: op.ContentType}, nil
		case "failed":
			perr := &Error{Code: op.Error.Code, Message: op.Error.Message, Retryable: op.Error.Retryable}
			if perr.Code == "" {
				perr.Code = CodeRejected
			}
			span.RecordError(perr)
			span.SetStatus(codes.Error, "provider reported failure")
			return nil, perr
		default:
			if onProgress != nil && op.Progress > 0 {
				onProgress(op.Progress)
			}
		}
	}
}

func (c *HTTPClient) submit(ctx context.Context, job *domain.GenerationJob) (string, error) {
	body, err := json.Marshal(submitRequest{
		Kind:     string(job.Kind),
		Payload:  job.Payload,
		InputRef: job.InputRef,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return "", err
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &Error{Code: CodeUnavailable, Message: "malformed submit response: " + err.Error(), Retryable: true}
	}
	if sr.OperationID == "" {
		return "", &Error{Code: CodeUnavailable, Message: "submit response missing operation_id", Retryable: true}
	}
	return sr.OperationID, nil
}

func (c *HTTPClient) pollOperation(ctx context.Context, opID string) (*operationResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/operations/"+opID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var op operationResponse
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, &Error{Code: CodeUnavailable, Message: "malformed operation response: " + err.Error(), Retryable: true}
	}
	return &op, nil
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &Error{Code: CodeTimeout, Message: err.Error(), Retryable: true}
		}
		return nil, &Error{Code: CodeUnavailable, Message: err.Error(), Retryable: true}
	}
	return resp, nil
}

// classifyStatus maps HTTP status codes onto the retryable/fatal taxonomy:
// 4xx means the provider rejected the input permanently (except 408/429),
// 5xx is transient.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	msg := fmt.Sprintf("provider returned status %d", resp.StatusCode)
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 1024)); err == nil && len(data) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(string(data)))
	}
	retryable := resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests
	code := CodeRejected
	if retryable {
		code = CodeUnavailable
	}
	return &Error{Code: code, Message: msg, Retryable: retryable}
}
