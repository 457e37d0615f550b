// Package fakeprovider serves an in-memory imitation of the hosting provider
// and the token registration backend. Tests point clients at it through
// httptest, and the HTTP server can mount it for local development.
package fakeprovider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/agent-launch-provisioner/codebundle"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

// Route names recorded for every call.
const (
	RouteCreate   = "create"
	RouteUpload   = "upload"
	RouteSecret   = "secret"
	RouteStart    = "start"
	RouteStatus   = "status"
	RouteList     = "list"
	RouteTokenize = "tokenize"
)

// ExampleTokenAddress is the lowercase token address returned for created tokens.
const ExampleTokenAddress = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

// Call is one request received by the fake.
type Call struct {
	Route   string
	Method  string
	Path    string
	Body    []byte
	Address string
}

type agent struct {
	Name        string
	Address     string
	Files       []interfaces.SourceFile
	Secrets     map[string]string
	Started     bool
	StatusCalls int
}

// FakeProvider is safe for concurrent use. Configure the exported knobs before
// serving requests.
type FakeProvider struct {
	// HostingToken, when set, must be presented as "Authorization: bearer <token>".
	HostingToken string
	// LaunchToken, when set, must be presented as "X-API-Key: <token>".
	LaunchToken string

	// CompileAfter is the number of status calls answered with compiled=false
	// before compiled=true. Negative values never compile.
	CompileAfter int
	// ReportRunning reports running=true together with compiled=true.
	ReportRunning bool

	// Fail maps a route name to the status code returned for every call to it.
	Fail map[string]int
	// FailSecrets maps a secret name to the status code returned when setting it.
	FailSecrets map[string]int
	// FailStatusAttempts maps a 1-based status call number to an error status code.
	FailStatusAttempts map[int]int

	// TokenizeReply, when set, replaces the generated tokenize answer.
	TokenizeReply *interfaces.TokenizeResponse
	// HandoffBase, when set, makes tokenize answers carry a handoff link.
	HandoffBase string

	mu       sync.Mutex
	calls    []Call
	agents   map[string]*agent
	order    []string
	tokens   int
	tokenize []interfaces.TokenizeRequest
}

// New returns a fake that compiles on the first status call.
func New() *FakeProvider {
	return &FakeProvider{
		agents: make(map[string]*agent),
	}
}

// Handler returns the router serving both hosting and registration routes.
func (f *FakeProvider) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Route("/hosting", func(r chi.Router) {
		r.Use(f.requireBearer)
		r.Post("/agents", f.handleCreate)
		r.Get("/agents", f.handleList)
		r.Get("/agents/{address}", f.handleStatus)
		r.Put("/agents/{address}/code", f.handleUpload)
		r.Post("/agents/{address}/start", f.handleStart)
		r.Post("/secrets", f.handleSecret)
	})
	mux.With(f.requireAPIKey).Post("/agents/tokenize", f.handleTokenize)
	return mux
}

// Calls returns every call received so far in order.
func (f *FakeProvider) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Routes returns the route names of all calls in order.
func (f *FakeProvider) Routes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	routes := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		routes = append(routes, c.Route)
	}
	return routes
}

// CallCount returns how many calls hit the route.
func (f *FakeProvider) CallCount(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Route == route {
			n++
		}
	}
	return n
}

// Files returns the decoded bundle uploaded to an address.
func (f *FakeProvider) Files(address string) []interfaces.SourceFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.agents[address]; ok {
		return a.Files
	}
	return nil
}

// Secrets returns the secrets set on an address.
func (f *FakeProvider) Secrets(address string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	if a, ok := f.agents[address]; ok {
		for k, v := range a.Secrets {
			out[k] = v
		}
	}
	return out
}

// TokenizeRequests returns the decoded tokenize request bodies.
func (f *FakeProvider) TokenizeRequests() []interfaces.TokenizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interfaces.TokenizeRequest(nil), f.tokenize...)
}

func (f *FakeProvider) record(r *http.Request, route string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{
		Route:   route,
		Method:  r.Method,
		Path:    r.URL.Path,
		Body:    body,
		Address: chi.URLParam(r, "address"),
	})
}

func (f *FakeProvider) failure(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Fail[route]
}

func (f *FakeProvider) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.HostingToken != "" && r.Header.Get("Authorization") != "bearer "+f.HostingToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeProvider) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.LaunchToken != "" && r.Header.Get("X-API-Key") != f.LaunchToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeProvider) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, RouteCreate, body)
	if code := f.failure(RouteCreate); code != 0 {
		writeJSON(w, code, map[string]string{"message": "create rejected"})
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name is required"})
		return
	}

	f.mu.Lock()
	address := fmt.Sprintf("agent1q%058d", len(f.order)+1)
	f.agents[address] = &agent{Name: req.Name, Address: address, Secrets: make(map[string]string)}
	f.order = append(f.order, address)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"address":        address,
		"wallet_address": "fetch1" + address[len(address)-10:],
	})
}

func (f *FakeProvider) lookup(w http.ResponseWriter, r *http.Request) (*agent, bool) {
	f.mu.Lock()
	a, ok := f.agents[chi.URLParam(r, "address")]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "agent not found"})
	}
	return a, ok
}

func (f *FakeProvider) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, RouteUpload, body)
	if code := f.failure(RouteUpload); code != 0 {
		writeJSON(w, code, map[string]string{"message": "upload rejected"})
		return
	}

	a, ok := f.lookup(w, r)
	if !ok {
		return
	}

	files, err := codebundle.DecodeUploadBody(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	a.Files = files
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"digest": interfaces.ComputeID(body).String()})
}

func (f *FakeProvider) handleSecret(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, RouteSecret, body)

	var req struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Secret  string `json:"secret"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed secret"})
		return
	}

	f.mu.Lock()
	code := f.Fail[RouteSecret]
	if c, ok := f.FailSecrets[req.Name]; ok {
		code = c
	}
	a, found := f.agents[req.Address]
	f.mu.Unlock()

	if code != 0 {
		writeJSON(w, code, map[string]string{"message": "secret " + req.Name + " rejected"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "agent not found"})
		return
	}

	f.mu.Lock()
	a.Secrets[req.Name] = req.Secret
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{})
}

func (f *FakeProvider) handleStart(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, RouteStart, body)
	if code := f.failure(RouteStart); code != 0 {
		writeJSON(w, code, map[string]string{"message": "start rejected"})
		return
	}

	a, ok := f.lookup(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	a.Started = true
	f.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (f *FakeProvider) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.record(r, RouteStatus, nil)

	a, ok := f.lookup(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	a.StatusCalls++
	attempt := a.StatusCalls
	failCode := f.Fail[RouteStatus]
	if c, ok := f.FailStatusAttempts[attempt]; ok {
		failCode = c
	}
	compiled := a.Started && f.CompileAfter >= 0 && attempt > f.CompileAfter
	running := compiled && f.ReportRunning
	f.mu.Unlock()

	if failCode != 0 {
		writeJSON(w, failCode, map[string]string{"message": "status unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, interfaces.RemoteProcessStatus{
		Name:          a.Name,
		Address:       a.Address,
		Compiled:      compiled,
		Running:       running,
		WalletAddress: "fetch1" + a.Address[len(a.Address)-10:],
	})
}

func (f *FakeProvider) handleList(w http.ResponseWriter, r *http.Request) {
	f.record(r, RouteList, nil)
	if code := f.failure(RouteList); code != 0 {
		writeJSON(w, code, map[string]string{"message": "list rejected"})
		return
	}

	f.mu.Lock()
	items := make([]interfaces.RemoteProcessStatus, 0, len(f.order))
	for _, address := range f.order {
		a := f.agents[address]
		compiled := a.Started && f.CompileAfter >= 0 && a.StatusCalls > f.CompileAfter
		items = append(items, interfaces.RemoteProcessStatus{
			Name:     a.Name,
			Address:  a.Address,
			Compiled: compiled,
			Running:  compiled && f.ReportRunning,
		})
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (f *FakeProvider) handleTokenize(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, RouteTokenize, body)
	if code := f.failure(RouteTokenize); code != 0 {
		writeJSON(w, code, map[string]string{"message": "tokenize rejected"})
		return
	}

	var req interfaces.TokenizeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.AgentAddress == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "agentAddress is required"})
		return
	}

	f.mu.Lock()
	f.tokenize = append(f.tokenize, req)
	f.tokens++
	id := f.tokens
	reply := f.TokenizeReply
	handoffBase := f.HandoffBase
	f.mu.Unlock()

	if reply != nil {
		writeJSON(w, http.StatusOK, reply)
		return
	}

	data := map[string]any{
		"id":            id,
		"token_address": ExampleTokenAddress,
	}
	if handoffBase != "" {
		data["handoffLink"] = fmt.Sprintf("%s/deploy/%d", handoffBase, id)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
