package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/stretchr/testify/mock"
)

// LaunchClient implements interfaces.TokenRegistrar against the registration backend.
type LaunchClient struct {
	baseURL   string
	authToken string
	transport *Transport
}

// NewLaunchClient creates a registration backend client using X-API-Key auth.
func NewLaunchClient(baseURL, authToken string, log *slog.Logger, timeout ...time.Duration) *LaunchClient {
	return &LaunchClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		transport: NewTransport(APIKeyAuth, log, timeout...),
	}
}

// Transport exposes the underlying transport.
func (c *LaunchClient) Transport() *Transport {
	return c.transport
}

// Tokenize requests a token record for a process. The response is returned
// as received, including success=false answers.
func (c *LaunchClient) Tokenize(ctx context.Context, req *interfaces.TokenizeRequest) (*interfaces.TokenizeResponse, error) {
	var resp interfaces.TokenizeResponse
	if err := c.transport.Send(ctx, http.MethodPost, c.baseURL+"/agents/tokenize", c.authToken, req, &resp); err != nil {
		return nil, fmt.Errorf("tokenize failed: %w", err)
	}
	return &resp, nil
}

// MockLaunchClient is a testify mock of interfaces.TokenRegistrar.
type MockLaunchClient struct {
	mock.Mock
}

func (m *MockLaunchClient) Tokenize(ctx context.Context, req *interfaces.TokenizeRequest) (*interfaces.TokenizeResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*interfaces.TokenizeResponse)
	return resp, args.Error(1)
}
