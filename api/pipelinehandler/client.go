package pipelinehandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/pipeline"
	"github.com/stretchr/testify/mock"
)

// PipelineClient calls a pipeline API server.
type PipelineClient struct {
	ServerAddr string
	HTTPClient *http.Client
}

// RunPipeline runs a pipeline remotely. Failed runs still return their result
// alongside an error describing the HTTP status.
func (p *PipelineClient) RunPipeline(ctx context.Context, req *pipeline.Request) (*interfaces.PipelineResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not marshal pipeline request: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, "/api/pipelines", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadGateway, http.StatusGatewayTimeout:
	default:
		return nil, responseError("pipeline", resp)
	}

	var result interfaces.PipelineResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not parse pipeline response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &result, fmt.Errorf("pipeline endpoint returned %d: %s", resp.StatusCode, result.Error)
	}
	return &result, nil
}

func (p *PipelineClient) ListProcesses(ctx context.Context) ([]interfaces.RemoteProcessStatus, error) {
	resp, err := p.do(ctx, http.MethodGet, "/api/processes", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("processes", resp)
	}

	var parsed ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse processes response: %w", err)
	}
	return parsed.Items, nil
}

func (p *PipelineClient) GetStatus(ctx context.Context, address interfaces.ProcessAddress) (*interfaces.RemoteProcessStatus, error) {
	resp, err := p.do(ctx, http.MethodGet, "/api/processes/"+url.PathEscape(address.String()), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError("process status", resp)
	}

	var status interfaces.RemoteProcessStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("could not parse process status response: %w", err)
	}
	return &status, nil
}

func (p *PipelineClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(p.ServerAddr, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request %s: %w", path, err)
	}
	return resp, nil
}

func responseError(endpoint string, resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s endpoint returned non-200 response: %d", endpoint, resp.StatusCode)
	}
	return fmt.Errorf("%s endpoint returned error %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
}

type MockPipelineRunner struct {
	mock.Mock
}

func (m *MockPipelineRunner) Run(ctx context.Context, req *pipeline.Request) *interfaces.PipelineResult {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*interfaces.PipelineResult)
	return result
}
