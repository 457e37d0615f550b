package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/agent-launch-provisioner/codebundle"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/stretchr/testify/mock"
)

// DefaultHostingURL is the hosting provider's API base.
const DefaultHostingURL = "https://agentverse.ai/v1"

// HostingClient implements interfaces.HostingProvider, interfaces.SecretSetter
// and interfaces.ProcessLister against the hosting provider's REST API.
type HostingClient struct {
	baseURL   string
	authToken string
	transport *Transport
}

// NewHostingClient creates a hosting client using bearer auth.
func NewHostingClient(baseURL, authToken string, log *slog.Logger, timeout ...time.Duration) *HostingClient {
	return &HostingClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		transport: NewTransport(BearerAuth, log, timeout...),
	}
}

// Transport exposes the underlying transport, e.g. to swap its HTTP client.
func (c *HostingClient) Transport() *Transport {
	return c.transport
}

func (c *HostingClient) agentURL(address interfaces.ProcessAddress, suffix string) string {
	return fmt.Sprintf("%s/hosting/agents/%s%s", c.baseURL, url.PathEscape(address.String()), suffix)
}

// CreateProcess creates a hosted process.
func (c *HostingClient) CreateProcess(ctx context.Context, name string, profile string) (*interfaces.CreatedProcess, error) {
	reqBody := map[string]string{"name": name}
	if profile != "" {
		reqBody["profile"] = profile
	}

	var created interfaces.CreatedProcess
	if err := c.transport.Send(ctx, http.MethodPost, c.baseURL+"/hosting/agents", c.authToken, reqBody, &created); err != nil {
		return nil, fmt.Errorf("create process failed: %w", err)
	}

	if created.Address.IsZero() {
		return nil, fmt.Errorf("create process failed: response carried no address")
	}

	return &created, nil
}

// UploadCode encodes files and uploads them. The exact bytes sent are checked
// with codebundle.ValidateUploadBody first.
func (c *HostingClient) UploadCode(ctx context.Context, address interfaces.ProcessAddress, files []interfaces.SourceFile) (*interfaces.CodeUploadResult, error) {
	body, err := codebundle.NewUploadBody(files)
	if err != nil {
		return nil, err
	}

	if err := codebundle.ValidateUploadBody(body); err != nil {
		return nil, err
	}

	var resp struct {
		Digest string `json:"digest"`
	}
	if err := c.transport.Send(ctx, http.MethodPut, c.agentURL(address, "/code"), c.authToken, json.RawMessage(body), &resp); err != nil {
		return nil, fmt.Errorf("upload code failed: %w", err)
	}

	return &interfaces.CodeUploadResult{Digest: resp.Digest, UploadedAt: time.Now().UTC()}, nil
}

// SetSecret sets a named secret on a process.
func (c *HostingClient) SetSecret(ctx context.Context, address interfaces.ProcessAddress, name string, value string) error {
	reqBody := map[string]string{
		"address": address.String(),
		"name":    name,
		"secret":  value,
	}
	return c.transport.Send(ctx, http.MethodPost, c.baseURL+"/hosting/secrets", c.authToken, reqBody, nil)
}

// StartProcess starts a process. The request carries no body.
func (c *HostingClient) StartProcess(ctx context.Context, address interfaces.ProcessAddress) error {
	if err := c.transport.Send(ctx, http.MethodPost, c.agentURL(address, "/start"), c.authToken, nil, nil); err != nil {
		return fmt.Errorf("start process failed: %w", err)
	}
	return nil
}

// GetStatus fetches the compile/run state of a process.
func (c *HostingClient) GetStatus(ctx context.Context, address interfaces.ProcessAddress) (*interfaces.RemoteProcessStatus, error) {
	var status interfaces.RemoteProcessStatus
	if err := c.transport.Send(ctx, http.MethodGet, c.agentURL(address, ""), c.authToken, nil, &status); err != nil {
		return nil, fmt.Errorf("get status failed: %w", err)
	}
	return &status, nil
}

// ListProcesses lists all processes of the account.
func (c *HostingClient) ListProcesses(ctx context.Context) ([]interfaces.RemoteProcessStatus, error) {
	var resp struct {
		Items []interfaces.RemoteProcessStatus `json:"items"`
	}
	if err := c.transport.Send(ctx, http.MethodGet, c.baseURL+"/hosting/agents", c.authToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("list processes failed: %w", err)
	}
	return resp.Items, nil
}

// MockHostingClient is a testify mock of the hosting provider surface.
type MockHostingClient struct {
	mock.Mock
}

func (m *MockHostingClient) CreateProcess(ctx context.Context, name string, profile string) (*interfaces.CreatedProcess, error) {
	args := m.Called(ctx, name, profile)
	created, _ := args.Get(0).(*interfaces.CreatedProcess)
	return created, args.Error(1)
}

func (m *MockHostingClient) UploadCode(ctx context.Context, address interfaces.ProcessAddress, files []interfaces.SourceFile) (*interfaces.CodeUploadResult, error) {
	args := m.Called(ctx, address, files)
	result, _ := args.Get(0).(*interfaces.CodeUploadResult)
	return result, args.Error(1)
}

func (m *MockHostingClient) SetSecret(ctx context.Context, address interfaces.ProcessAddress, name string, value string) error {
	args := m.Called(ctx, address, name, value)
	return args.Error(0)
}

func (m *MockHostingClient) StartProcess(ctx context.Context, address interfaces.ProcessAddress) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

func (m *MockHostingClient) GetStatus(ctx context.Context, address interfaces.ProcessAddress) (*interfaces.RemoteProcessStatus, error) {
	args := m.Called(ctx, address)
	status, _ := args.Get(0).(*interfaces.RemoteProcessStatus)
	return status, args.Error(1)
}

func (m *MockHostingClient) ListProcesses(ctx context.Context) ([]interfaces.RemoteProcessStatus, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]interfaces.RemoteProcessStatus)
	return items, args.Error(1)
}
