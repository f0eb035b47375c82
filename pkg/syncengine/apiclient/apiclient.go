// Package apiclient is the sync engine's HTTP request wrapper (spec
// §4.8): it injects the fixed header set, wraps bodies in the envelope
// of spec §6, recovers a single 401 via one refresh-then-retry, and logs
// every request/response redacted through pkg/syncengine/redaction.
// Grounded on the teacher pack's httpclient helpers for the "shallow,
// timeout-scoped client" idea, generalized into a full request/response
// cycle since the teacher itself only wraps *http.Client construction.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aurafall/syncengine/pkg/syncengine/redaction"
	"github.com/aurafall/syncengine/pkg/syncengine/taxonomy"
)

// DefaultTimeout is the request timeout used when RequestOptions.Timeout
// is zero (spec §4.8: "timeout=30s").
const DefaultTimeout = 30 * time.Second

// Transport is the external HTTP request/response primitive the sync
// engine depends on but does not implement (spec §1: "HTTP transport —
// a request/response primitive accepting method, path, headers, body").
type Transport interface {
	Do(ctx context.Context, method, url string, headers http.Header, body []byte, timeout time.Duration) (status int, respHeader http.Header, respBody []byte, err error)
}

// AuthService is the subset of the authentication service contract
// (spec §6) the API client needs: reading the current token and
// triggering a refresh on 401.
type AuthService interface {
	GetAccessToken(ctx context.Context) (string, bool)
	TryRefresh(ctx context.Context) (bool, error)
}

// RequestOptions parameterizes one call to Client.Request.
type RequestOptions struct {
	Method         string
	Path           string
	Headers        map[string]string
	Body           map[string]any
	Timeout        time.Duration
	RetryAuth      bool
	TraceID        string
	TxnToken       string
	IdempotencyKey string // set only when the route requires it
}

// Client is the sync engine's API client.
type Client struct {
	baseURL    string
	transport  Transport
	auth       AuthService
	appVersion string
	deviceID   string
	logger     *slog.Logger
	redactor   *redaction.Redactor
	now        func() time.Time
}

// New constructs a Client. now defaults to time.Now if nil.
func New(baseURL string, transport Transport, auth AuthService, appVersion, deviceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		transport:  transport,
		auth:       auth,
		appVersion: appVersion,
		deviceID:   deviceID,
		logger:     logger,
		redactor:   redaction.New(),
		now:        time.Now,
	}
}

// Request executes opts and returns the parsed `data` object on success,
// or a classified taxonomy.Error on failure. On 401 with RetryAuth set,
// it refreshes the token and re-issues the request exactly once with
// RetryAuth=false (spec §4.8).
func (c *Client) Request(ctx context.Context, opts RequestOptions) (map[string]any, *taxonomy.Error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	header := c.buildHeaders(ctx, opts)
	envelope := map[string]any{
		"meta": map[string]any{
			"trace_id":  opts.TraceID,
			"timestamp": c.now().UTC().Format(time.RFC3339),
			"txn_token": nonEmpty(opts.TxnToken),
		},
		"payload": opts.Body,
	}
	rawBody, err := json.Marshal(envelope)
	if err != nil {
		return nil, &taxonomy.Error{Kind: taxonomy.Validation, Message: fmt.Sprintf("encode request body: %v", err), TraceID: opts.TraceID}
	}

	c.logRequest(opts, header)

	url := c.baseURL + opts.Path
	status, respHeader, respBody, doErr := c.transport.Do(ctx, opts.Method, url, header, rawBody, opts.Timeout)
	if doErr != nil {
		nerr := taxonomy.FromNetworkError(doErr, opts.TraceID)
		c.logResponse(opts, 0, nil)
		return nil, nerr
	}
	c.logResponse(opts, status, respBody)

	parsed, parseErr := parseEnvelope(respBody)
	if parseErr != nil {
		return nil, &taxonomy.Error{Kind: taxonomy.Validation, Message: parseErr.Error(), HTTPStatus: status, TraceID: opts.TraceID}
	}

	if respTraceID, ok := parsed.meta["trace_id"].(string); ok && respTraceID != "" && respTraceID != opts.TraceID {
		return nil, &taxonomy.Error{Kind: taxonomy.Validation, Message: "response trace_id mismatch", HTTPStatus: status, TraceID: opts.TraceID}
	}

	if status >= 200 && status < 300 {
		return parsed.data, nil
	}

	taxErr := taxonomy.FromHTTPResponse(status, respHeader, parsed.errorBody, opts.TraceID, c.now())
	if taxErr.Kind == taxonomy.Unauthorized && opts.RetryAuth {
		ok, refreshErr := c.auth.TryRefresh(ctx)
		if refreshErr == nil && ok {
			retryOpts := opts
			retryOpts.RetryAuth = false
			return c.Request(ctx, retryOpts)
		}
	}
	return nil, taxErr
}

func (c *Client) buildHeaders(ctx context.Context, opts RequestOptions) http.Header {
	h := http.Header{}
	for k, v := range opts.Headers {
		h.Set(k, v)
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	if token, ok := c.auth.GetAccessToken(ctx); ok && token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	h.Set("X-App-Version", c.appVersion)
	h.Set("X-Device-Id", c.deviceID)
	h.Set("Trace-Id", opts.TraceID)
	if opts.IdempotencyKey != "" {
		h.Set("Idempotency-Key", opts.IdempotencyKey)
	}
	return h
}

// logRequest logs the outgoing request with key-based masking applied to
// the payload (password/token/secret/... fields replaced outright, not
// just value-pattern PII) and the Authorization bearer truncated, per
// spec §4.8's redaction rules.
func (c *Client) logRequest(opts RequestOptions, header http.Header) {
	c.logger.Debug("sync engine request",
		"method", opts.Method,
		"path", opts.Path,
		"trace_id", opts.TraceID,
		"authorization", redactAuthorizationHeader(header.Get("Authorization")),
		"body", c.redactedJSON(opts.Body),
	)
}

func (c *Client) logResponse(opts RequestOptions, status int, rawBody []byte) {
	c.logger.Debug("sync engine response",
		"method", opts.Method,
		"path", opts.Path,
		"trace_id", opts.TraceID,
		"status", status,
		"body", redaction.TruncateBody(c.redactedResponseBody(rawBody)),
	)
}

// redactedJSON applies the full key+value redaction rules to m and
// re-marshals it for logging. A marshal failure (should not happen for
// plain JSON-able maps) falls back to a fixed placeholder rather than
// risking an unredacted log line.
func (c *Client) redactedJSON(m map[string]any) string {
	data, err := json.Marshal(c.redactor.RedactMap(m))
	if err != nil {
		return "[unloggable]"
	}
	return string(data)
}

// redactedResponseBody applies the same key+value redaction to a raw
// response body. Response bodies are arbitrary JSON (not necessarily an
// object), so a body that doesn't decode as a map falls back to
// value-pattern redaction over the raw text.
func (c *Client) redactedResponseBody(raw []byte) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return c.redactor.RedactString(string(raw))
	}
	data, err := json.Marshal(c.redactor.RedactMap(m))
	if err != nil {
		return c.redactor.RedactString(string(raw))
	}
	return string(data)
}

// redactAuthorizationHeader truncates the bearer token in an
// Authorization header value, preserving the "Bearer " scheme so the
// shape of the header is still visible in logs.
func redactAuthorizationHeader(v string) string {
	if v == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(v, prefix) {
		return redaction.RedactBearerToken(v)
	}
	return prefix + redaction.RedactBearerToken(strings.TrimPrefix(v, prefix))
}

type envelope struct {
	meta      map[string]any
	data      map[string]any
	errorBody map[string]any
}

// parseEnvelope parses the HTTP response envelope (spec §6). A
// body-less response is treated as an empty object: meta/data/error all
// absent.
func parseEnvelope(raw []byte) (envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return envelope{meta: map[string]any{}, data: map[string]any{}}, nil
	}

	var decoded struct {
		Meta  map[string]any `json:"meta"`
		Data  map[string]any `json:"data"`
		Error map[string]any `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if err == io.EOF {
			return envelope{meta: map[string]any{}, data: map[string]any{}}, nil
		}
		return envelope{}, fmt.Errorf("apiclient: decode response envelope: %w", err)
	}

	meta := decoded.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	return envelope{meta: meta, data: decoded.Data, errorBody: decoded.Error}, nil
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
