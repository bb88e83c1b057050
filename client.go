package aslanpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coltonsakamoto/aslanpay/pkg/canonjson"
)

const sdkUserAgent = "aslanpay-go/1.0.0"

// AuthStrategy attaches credentials to an outgoing request.
type AuthStrategy interface {
	Apply(req *http.Request, body []byte) error
}

// BearerAuth presents the agent's token as a bearer credential.
type BearerAuth struct{ Token string }

func (a BearerAuth) Apply(req *http.Request, _ []byte) error {
	if strings.TrimSpace(a.Token) == "" {
		return errors.New("agent token is required")
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// Client issues authenticated JSON requests to the control tower and
// returns typed payloads or typed failures. It performs no automatic
// retries: a resubmission with the same idempotency key is the only
// sanctioned retry, and it belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthStrategy
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithAuth(a AuthStrategy) Option {
	return func(c *Client) { c.auth = a }
}

// New builds a client from an explicitly resolved Config.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		auth:       BearerAuth{Token: cfg.Token},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one request and returns the status plus decoded JSON object.
// Failures come back as *Error with the Phase left blank; callers stamp
// the phase they were in. Mapping rules:
//
//   - credential problems before the request is built: CONFIGURATION_ERROR
//   - transport failures (DNS, refused, timeout): NETWORK_ERROR
//   - 5xx: NETWORK_ERROR (transient service fault, caller may retry)
//   - undecodable body on any other status: PROTOCOL_ERROR
func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (int, map[string]any, *Error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = canonjson.Encode(body)
		if err != nil {
			return 0, nil, &Error{Kind: KindProtocol, Message: "encode request: " + err.Error()}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, nil, &Error{Kind: KindConfiguration, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", sdkUserAgent)
	if len(bodyBytes) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.auth != nil {
		if err := c.auth.Apply(req, bodyBytes); err != nil {
			return 0, nil, &Error{Kind: KindConfiguration, Message: err.Error()}
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}
	respBody, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, nil, &Error{
			Kind:       KindNetwork,
			Message:    "service unavailable: " + strings.TrimSpace(firstLine(respBody, resp.StatusCode)),
			StatusCode: resp.StatusCode,
		}
	}
	if len(respBody) == 0 {
		return resp.StatusCode, map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return resp.StatusCode, nil, &Error{
			Kind:       KindProtocol,
			Message:    "undecodable response body",
			StatusCode: resp.StatusCode,
		}
	}
	return resp.StatusCode, obj, nil
}

func firstLine(body []byte, status int) string {
	s := string(body)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if strings.TrimSpace(s) == "" {
		return http.StatusText(status)
	}
	return s
}

// errorBody pulls the flat error shape the tower uses out of a non-2xx
// payload: {"error": message, "code": CODE, "details": {...}}.
func errorBody(status int, obj map[string]any) (code, message string, details map[string]any) {
	message, _ = obj["error"].(string)
	if message == "" {
		if inner, ok := obj["error"].(map[string]any); ok {
			message, _ = inner["message"].(string)
			code, _ = inner["code"].(string)
			details, _ = inner["details"].(map[string]any)
		}
	}
	if code == "" {
		code, _ = obj["code"].(string)
	}
	if details == nil {
		details, _ = obj["details"].(map[string]any)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return code, message, details
}
