package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/tracer"
)

const (
	defaultHTTPTimeout     = 30 * time.Second
	defaultHTTPMaxBodySize = 1 * 1024 * 1024
	maxHTTPRedirects       = 5
)

// HTTPRequestTool performs HTTP requests against an allowlist of domains.
// Redirect targets are checked against the same allowlist, and response
// bodies are capped.
type HTTPRequestTool struct {
	client         *http.Client
	allowedDomains map[string]bool
	maxBodySize    int64
	logger         *slog.Logger
}

// NewHTTPRequestTool creates an HTTP request tool restricted to the given
// domains. Hosts are matched exactly (case-insensitive, port stripped).
func NewHTTPRequestTool(allowedDomains []string, timeout time.Duration, maxBodySize int64, logger *slog.Logger) *HTTPRequestTool {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultHTTPMaxBodySize
	}

	allowed := make(map[string]bool, len(allowedDomains))
	for _, d := range allowedDomains {
		allowed[strings.ToLower(d)] = true
	}

	t := &HTTPRequestTool{
		allowedDomains: allowed,
		maxBodySize:    maxBodySize,
		logger:         logger,
	}
	t.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return fmt.Errorf("too many redirects")
			}
			return t.checkDomain(req.URL)
		},
	}
	return t
}

func (t *HTTPRequestTool) Name() string        { return "http_request" }
func (t *HTTPRequestTool) Description() string { return "Make HTTP requests to allowed URLs" }

func (t *HTTPRequestTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to request"},
				"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE"], "description": "HTTP method (default: GET)"},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Request headers as key-value pairs"},
				"body": {"type": "string", "description": "Request body for POST/PUT requests"}
			},
			"required": ["url"],
			"additionalProperties": false
		}`),
	}
}

type httpRequestParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// httpRequestOutput is the structured response handed back to the model.
type httpRequestOutput struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.http_request", t.logger, params,
		func(ctx context.Context, span trace.Span, p httpRequestParams) (any, error) {
			method := strings.ToUpper(p.Method)
			if method == "" {
				method = http.MethodGet
			}

			if err := ValidateAll(
				RequireField("url", p.URL),
				ValidateURL("url", p.URL),
				ValidateEnum("method", method, "GET", "POST", "PUT", "DELETE"),
			); err != nil {
				return nil, err
			}

			parsed, err := url.Parse(p.URL)
			if err != nil {
				return nil, fmt.Errorf("invalid url: %v", err)
			}
			if err := t.checkDomain(parsed); err != nil {
				return nil, err
			}

			span.SetAttributes(
				tracer.StringAttr("http.method", method),
				tracer.StringAttr("http.host", parsed.Hostname()),
			)

			var body io.Reader
			if p.Body != "" && (method == http.MethodPost || method == http.MethodPut) {
				body = strings.NewReader(p.Body)
			}

			req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
			if err != nil {
				return nil, fmt.Errorf("create request: %v", err)
			}
			for k, v := range p.Headers {
				if containsCRLF(k) || containsCRLF(v) {
					return nil, fmt.Errorf("invalid header: CRLF characters not allowed")
				}
				req.Header.Set(k, v)
			}

			resp, err := t.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request failed: %v", err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize+1))
			if err != nil {
				return nil, fmt.Errorf("read body: %v", err)
			}
			if int64(len(data)) > t.maxBodySize {
				return nil, fmt.Errorf("response too large: exceeds %d bytes", t.maxBodySize)
			}

			headers := make(map[string]string, len(resp.Header))
			for k := range resp.Header {
				headers[k] = resp.Header.Get(k)
			}

			t.logger.Debug("http request completed",
				"url", p.URL, "method", method, "status", resp.StatusCode, "size", len(data))
			return httpRequestOutput{
				StatusCode: resp.StatusCode,
				Headers:    headers,
				Body:       string(data),
			}, nil
		},
	)
}

// checkDomain rejects URLs whose host is not in the allowlist.
func (t *HTTPRequestTool) checkDomain(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	if !t.allowedDomains[host] {
		return fmt.Errorf("domain not in allowlist: %s", host)
	}
	return nil
}

// containsCRLF checks if a string contains CRLF characters that could be used for header injection.
func containsCRLF(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
