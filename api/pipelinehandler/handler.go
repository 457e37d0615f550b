package pipelinehandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/agent-launch-provisioner/api/clients"
	"github.com/ruteri/agent-launch-provisioner/codebundle"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/pipeline"
)

const (
	// maxBodySize is the maximum allowed request body size (4MB).
	maxBodySize = 4 * 1024 * 1024

	// ReportIDHeader carries the archive content ID of a finished run.
	ReportIDHeader = "X-Report-Id"
)

// Runner runs one pipeline. Implemented by *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req *pipeline.Request) *interfaces.PipelineResult
}

// ProcessReader reads remote process state. Implemented by *clients.HostingClient.
type ProcessReader interface {
	interfaces.ProcessLister
	GetStatus(ctx context.Context, address interfaces.ProcessAddress) (*interfaces.RemoteProcessStatus, error)
}

// ResultArchive stores finished runs. Implemented by *storage.Archive.
type ResultArchive interface {
	StoreResult(ctx context.Context, result *interfaces.PipelineResult) (interfaces.ContentID, error)
	FetchResult(ctx context.Context, id interfaces.ContentID) (*interfaces.PipelineResult, error)
}

// ListResponse is the body of GET /api/processes.
type ListResponse struct {
	Items []interfaces.RemoteProcessStatus `json:"items"`
}

// Handler serves the pipeline API.
type Handler struct {
	runner    Runner
	processes ProcessReader
	archive   ResultArchive
	log       *slog.Logger
}

// NewHandler creates a handler. archive may be nil.
func NewHandler(runner Runner, processes ProcessReader, archive ResultArchive, log *slog.Logger) *Handler {
	return &Handler{
		runner:    runner,
		processes: processes,
		archive:   archive,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/pipelines", h.HandleRunPipeline)
	r.Get("/api/processes", h.HandleListProcesses)
	r.Get("/api/processes/{address}", h.HandleProcessStatus)
	r.Get("/api/reports/{id}", h.HandleGetReport)
}

// HandleRunPipeline runs a pipeline for the JSON pipeline.Request in the body.
//
// URL format: POST /api/pipelines
//
// Input is validated before anything remote is touched, so a 400 guarantees
// no process was created. Once started, the run completes even if the client
// goes away.
func (h *Handler) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.log.Debug("Malformed pipeline request", "err", err)
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}

	if err := validateRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A client that disconnects does not stop a run halfway through.
	ctx := context.WithoutCancel(r.Context())
	result := h.runner.Run(ctx, &req)

	if h.archive != nil {
		id, err := h.archive.StoreResult(ctx, result)
		if err != nil {
			h.log.Error("Failed to archive pipeline result", "err", err, "run_id", result.RunID)
		} else {
			w.Header().Set(ReportIDHeader, id.String())
		}
	}

	h.writeJSON(w, StatusForResult(result), result)
}

// HandleListProcesses lists the account's hosted processes.
//
// URL format: GET /api/processes
func (h *Handler) HandleListProcesses(w http.ResponseWriter, r *http.Request) {
	items, err := h.processes.ListProcesses(r.Context())
	if err != nil {
		h.log.Error("Failed to list processes", "err", err)
		http.Error(w, fmt.Sprintf("could not list processes: %v", err), remoteStatus(err))
		return
	}
	if items == nil {
		items = []interfaces.RemoteProcessStatus{}
	}

	h.writeJSON(w, http.StatusOK, ListResponse{Items: items})
}

// HandleProcessStatus returns one process' compile and run state.
//
// URL format: GET /api/processes/{address}
func (h *Handler) HandleProcessStatus(w http.ResponseWriter, r *http.Request) {
	address := interfaces.ProcessAddress(strings.TrimSpace(chi.URLParam(r, "address")))
	if address.IsZero() {
		http.Error(w, "missing process address", http.StatusBadRequest)
		return
	}

	status, err := h.processes.GetStatus(r.Context(), address)
	if err != nil {
		h.log.Error("Failed to get process status", "err", err, "address", address)
		http.Error(w, fmt.Sprintf("could not get process status: %v", err), remoteStatus(err))
		return
	}
	if status.Address == "" {
		status.Address = address.String()
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleGetReport returns an archived pipeline result by content ID.
//
// URL format: GET /api/reports/{id}
func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		http.Error(w, "no archive configured", http.StatusNotFound)
		return
	}

	id, err := interfaces.NewContentIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid report id: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.archive.FetchResult(r.Context(), id)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	} else if err != nil {
		h.log.Error("Failed to fetch report", "err", err, "id", id.String())
		http.Error(w, "could not fetch report", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// StatusForResult maps a pipeline result to the HTTP status of its response.
func StatusForResult(result *interfaces.PipelineResult) int {
	switch {
	case result.Succeeded():
		return http.StatusOK
	case result.ErrorKind == interfaces.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func validateRequest(req *pipeline.Request) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name must not be empty")
	}
	if _, err := codebundle.Encode(req.Files); err != nil {
		return err
	}
	for i, secret := range req.Secrets {
		if strings.TrimSpace(secret.Name) == "" {
			return fmt.Errorf("secret %d has no name", i)
		}
	}
	if req.Registration != nil && !req.RegisterAfter {
		return errors.New("registration metadata given without register_after")
	}
	return nil
}

// remoteStatus passes through client errors of the hosting provider and maps
// everything else to 502.
func remoteStatus(err error) int {
	var remoteErr *clients.RemoteError
	if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
