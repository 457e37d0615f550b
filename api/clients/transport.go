package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// maxMessageLength bounds the raw body text used as an error message.
const maxMessageLength = 512

var (
	// ErrMissingAuthToken is returned before any I/O when no auth token was supplied.
	ErrMissingAuthToken = errors.New("auth token must not be empty")

	// ErrUnsupportedMethod is returned before any I/O for methods other than GET, POST, PUT and DELETE.
	ErrUnsupportedMethod = errors.New("unsupported HTTP method")
)

// AuthStyle selects how the auth token is attached to requests.
type AuthStyle int

const (
	// BearerAuth sends "Authorization: bearer <token>".
	BearerAuth AuthStyle = iota
	// APIKeyAuth sends "X-API-Key: <token>".
	APIKeyAuth
)

// RemoteError is returned for any non-2xx response.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote returned error %d: %s", e.StatusCode, e.Message)
}

// IsRemoteStatus reports whether err is a RemoteError with the given status code.
func IsRemoteStatus(err error, statusCode int) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == statusCode
}

// Transport is an authenticated JSON request/response helper. It holds no
// business logic and performs no retries.
type Transport struct {
	httpClient *http.Client
	authStyle  AuthStyle
	log        *slog.Logger
}

// NewTransport creates a transport attaching auth in the given style.
// The optional timeout overrides DefaultTimeout.
func NewTransport(authStyle AuthStyle, log *slog.Logger, timeout ...time.Duration) *Transport {
	clientTimeout := DefaultTimeout
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Transport{
		httpClient: &http.Client{Timeout: clientTimeout},
		authStyle:  authStyle,
		log:        log,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (t *Transport) WithHTTPClient(client *http.Client) *Transport {
	t.httpClient = client
	return t
}

// Send performs one request. A nil body sends no body; []byte and
// json.RawMessage bodies are sent verbatim, anything else is JSON encoded.
// A JSON response is decoded into out when out is non-nil and the body is non-empty.
func (t *Transport) Send(ctx context.Context, method, url, authToken string, body any, out any) error {
	if authToken == "" {
		return ErrMissingAuthToken
	}

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(b)
	case json.RawMessage:
		bodyReader = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return err
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	switch t.authStyle {
	case APIKeyAuth:
		req.Header.Set("X-API-Key", authToken)
	default:
		req.Header.Set("Authorization", "bearer "+authToken)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.log.Debug("request failed", "method", method, "url", url, "duration", time.Since(start), "err", err)
		return fmt.Errorf("%s %s failed: %w", method, url, err)
	}
	defer resp.Body.Close()

	t.log.Debug("request completed", "method", method, "url", url, "status", resp.StatusCode, "duration", time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, respBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}

	return nil
}

// errorMessage extracts a human readable message from an error response body,
// falling back to the status text.
func errorMessage(statusCode int, body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if msg, ok := parsed[key].(string); ok && msg != "" {
				return msg
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text != "" && len(text) <= maxMessageLength && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") {
		return text
	}

	return http.StatusText(statusCode)
}
