package stepwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"

	"github.com/pbnjay/memory"

	"github.com/stepwise-dev/stepwise-go/internal/sdkrequest"
	"github.com/stepwise-dev/stepwise-go/step"
)

// DefaultMaxBodySize bounds a single invoke request body (100MB).
const DefaultMaxBodySize = 1024 * 1024 * 100

// HandlerOpts configures a Handler.
type HandlerOpts struct {
	// AppID identifies this application; combined with each function's ID
	// to compute its registry slug (I5).
	AppID string

	Logger *slog.Logger

	// SigningKey authenticates outbound registration and inbound signed
	// requests. Defaults to INNGEST_SIGNING_KEY.
	SigningKey *string

	// SigningKeyFallback is tried when SigningKey fails to verify an inbound
	// request, so a key can be rotated without downtime: the executor signs
	// with the new key while this handler still accepts the old one.
	// Defaults to INNGEST_SIGNING_KEY_FALLBACK.
	SigningKeyFallback *string

	// Env is the branch/preview environment name. Defaults to INNGEST_ENV.
	Env *string

	// ServeOrigin overrides the Host-derived base URL used when rendering
	// the function manifest. Falls back to INNGEST_SERVE_HOST, then to
	// the incoming request's Host header.
	ServeOrigin *string

	// ServePath overrides the path functions are served at. Defaults to
	// INNGEST_SERVE_PATH, then "/api/inngest".
	ServePath *string

	// RegisterURL overrides where the manifest is POSTed.
	RegisterURL *string

	// MaxBodySize bounds a single invoke request body. Zero means
	// DefaultMaxBodySize.
	MaxBodySize int

	// MaxConcurrency bounds the number of invocations executing at once.
	// Zero means unbounded.
	MaxConcurrency int64

	// Client, if set, is used by step.Send/SendMany within invocations
	// served by this handler.
	Client Client
}

func (o HandlerOpts) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o HandlerOpts) signingKey() string {
	if o.SigningKey != nil {
		return *o.SigningKey
	}
	return signingKeyEnv()
}

func (o HandlerOpts) signingKeyFallback() string {
	if o.SigningKeyFallback != nil {
		return *o.SigningKeyFallback
	}
	return signingKeyFallbackEnv()
}

func (o HandlerOpts) env() string {
	if o.Env != nil {
		return *o.Env
	}
	return envNameEnv()
}

func (o HandlerOpts) servePath() string {
	if o.ServePath != nil {
		return *o.ServePath
	}
	if p := servePathEnv(); p != "" {
		return p
	}
	return defaultServePath
}

func (o HandlerOpts) maxBodySize() int {
	if o.MaxBodySize > 0 {
		return o.MaxBodySize
	}
	return DefaultMaxBodySize
}

// Handler serves the three-endpoint HTTP surface (C8) backing registration,
// introspection, and invocation for a set of registered functions.
type Handler interface {
	http.Handler

	// Register adds fns to the handler. Returns an error if two functions
	// in the same call compute the same slug.
	Register(fns ...ServableFunction) error
}

// NewHandler returns a Handler for appID, configured by opts.
func NewHandler(appID string, opts HandlerOpts) Handler {
	var sem *semaphore.Weighted
	if opts.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(opts.MaxConcurrency)
	}

	return &handler{
		opts:     opts,
		appID:    appID,
		registry: newRegistry(appID),
		sem:      sem,
	}
}

type handler struct {
	opts     HandlerOpts
	appID    string
	registry *registry
	sem      *semaphore.Weighted
	mu       sync.RWMutex
}

func (h *handler) Register(fns ...ServableFunction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.register(fns...)
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setResponseHeaders(w)

	switch r.Method {
	case http.MethodGet:
		h.handleIntrospect(w, r)
	case http.MethodPut:
		h.handleRegister(w, r)
	case http.MethodPost:
		h.handleInvoke(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setResponseHeaders(w http.ResponseWriter) {
	w.Header().Set(headerKeyContentType, "application/json")
	w.Header().Set(headerKeyFramework, "stepwise")
	w.Header().Set(headerKeySDK, sdkVersionHeader)
	w.Header().Set(headerKeyReqVersion, requestVersion)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// --- C6 Invocation Handler -------------------------------------------------

func (h *handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	serverKind := r.Header.Get(headerKeyServerKind)
	if serverKind == "" {
		serverKind = serverKindDev
	}

	sig := r.Header.Get(headerKeySignature)
	if serverKind == serverKindCloud && sig == "" {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized: missing signature")
		return
	}

	body, err := readBody(w, r, h.opts.maxBodySize())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "error reading request body")
		return
	}

	if sig != "" {
		if _, err := verifySignatureWithFallback(sig, h.opts.signingKey(), h.opts.signingKeyFallback(), body, false); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized: "+err.Error())
			return
		}
	}

	var req sdkrequest.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	// use_api is parsed but intentionally unacted upon; see DESIGN.md.
	_ = req.UseAPI

	fnID := r.URL.Query().Get("fnId")

	h.mu.RLock()
	fn, ok := h.registry.lookup(fnID)
	h.mu.RUnlock()
	if !ok {
		writeJSONError(w, http.StatusGone, fmt.Sprintf("function not found: %s", fnID))
		return
	}

	if h.sem != nil {
		if err := h.sem.Acquire(r.Context(), 1); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "too many concurrent invocations")
			return
		}
		defer h.sem.Release(1)
	}

	status, respBody, headers := h.invokeFunction(r.Context(), fn, &req)
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

// invokeFunction runs fn's user closure under a panic guard and classifies
// the outcome into an HTTP status/body/header set, per §4.6's state
// machine.
func (h *handler) invokeFunction(ctx context.Context, fn ServableFunction, req *sdkrequest.Request) (status int, body []byte, headers map[string]string) {
	mgr := sdkrequest.NewManager(req)
	ctx = sdkrequest.SetManager(ctx, mgr)
	if h.opts.Client != nil {
		ctx = step.SetSender(ctx, h.opts.Client)
	}

	result, err := h.callUserFunction(ctx, fn, mgr, req)

	if err != nil {
		if noRetryErr, ok := asNoRetry(err); ok {
			return http.StatusInternalServerError, mustJSON(map[string]string{
				"message": noRetryErr.Error(),
			}), map[string]string{headerKeyNoRetry: "true"}
		}
		if at, ok := GetRetryAtTime(err); ok {
			return http.StatusInternalServerError, mustJSON(map[string]string{
				"message": err.Error(),
			}), map[string]string{headerKeyRetryAfter: time.Unix(at, 0).UTC().Format(time.RFC3339)}
		}
		if step.IsNoInvokeResponse(err) {
			return http.StatusInternalServerError, mustJSON(map[string]string{
				"message": err.Error(),
				"kind":    "NoInvokeResponse",
			}), nil
		}
		if pe, ok := err.(panicError); ok {
			h.opts.logger().Error("panic serving function", "fn", fn.ID(), "error", pe)
			return http.StatusInternalServerError, mustJSON(pe.Error()), nil
		}

		return http.StatusInternalServerError, mustJSON(map[string]string{
			"message": err.Error(),
		}), nil
	}

	if stepErr := mgr.StepError(); stepErr != nil {
		return http.StatusInternalServerError, mustJSON(stepErr), nil
	}

	ops := mgr.Ops()
	if len(ops) > 0 {
		return http.StatusPartialContent, mustJSON(ops), nil
	}

	if result.hijacked {
		// Interrupt raised with neither a step error nor ops: nothing left
		// to report this round.
		return http.StatusPartialContent, []byte("null"), nil
	}

	return http.StatusOK, mustJSON(result.value), nil
}

type invokeOutcome struct {
	value    any
	hijacked bool
}

func asNoRetry(err error) (error, bool) {
	if IsNoRetryError(err) {
		return err, true
	}
	return nil, false
}

// panicError wraps a recovered panic value distinctly from an ordinary
// user-returned error, so the handler can render it as "panic: ..." instead
// of surfacing the panic value as if it were a normal Basic error.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// callUserFunction builds the typed Input via reflection and invokes fn's
// closure. A ControlHijack panic is recovered as a hijacked outcome; any
// other panic is recovered and returned to the caller as a panicError.
func (h *handler) callUserFunction(ctx context.Context, fn ServableFunction, mgr *sdkrequest.Manager, req *sdkrequest.Request) (out invokeOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(sdkrequest.ControlHijack); ok {
				out = invokeOutcome{hijacked: true}
				return
			}
			err = panicError{value: r}
		}
	}()

	fVal := reflect.ValueOf(fn.Func())
	inputType := fVal.Type().In(1)
	inputVal := reflect.New(inputType).Elem()

	eventVal := reflect.New(inputVal.FieldByName("Event").Type()).Elem()
	if len(req.Event) > 0 && string(req.Event) != "null" {
		if err := json.Unmarshal(req.Event, eventVal.Addr().Interface()); err != nil {
			return invokeOutcome{}, BasicError("decoding event: %v", err)
		}
	}
	inputVal.FieldByName("Event").Set(eventVal)

	eventsField := inputVal.FieldByName("Events")
	eventsVal := reflect.MakeSlice(eventsField.Type(), len(req.Events), len(req.Events))
	for i, raw := range req.Events {
		elem := reflect.New(eventsField.Type().Elem())
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, elem.Interface()); err != nil {
				return invokeOutcome{}, BasicError("decoding events[%d]: %v", i, err)
			}
		}
		eventsVal.Index(i).Set(elem.Elem())
	}
	eventsField.Set(eventsVal)

	ctxField := inputVal.FieldByName("Ctx")
	ctxField.Set(reflect.ValueOf(InputCtx{
		Env:        req.CallCtx.Env,
		FunctionID: req.CallCtx.FunctionID,
		RunID:      req.CallCtx.RunID,
		StepID:     req.CallCtx.StepID,
		Attempt:    req.CallCtx.Attempt,
	}))

	args := []reflect.Value{reflect.ValueOf(ctx), inputVal}
	results := fVal.Call(args)

	var userErr error
	if e, ok := results[1].Interface().(error); ok {
		userErr = e
	}
	if userErr != nil {
		return invokeOutcome{}, userErr
	}

	return invokeOutcome{value: results[0].Interface()}, nil
}

func readBody(w http.ResponseWriter, r *http.Request, max int) ([]byte, error) {
	limited := http.MaxBytesReader(w, r.Body, int64(max))
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(limited); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`"internal error encoding response"`)
	}
	return b
}

// --- C7 Sync/Introspect -----------------------------------------------------

type registerRequest struct {
	AppName    string         `json:"appName"`
	DeployType string         `json:"deployType"`
	URL        string         `json:"url"`
	V          string         `json:"v"`
	SDK        string         `json:"sdk"`
	Framework  string         `json:"framework"`
	Functions  []functionSpec `json:"functions"`
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	serveOrigin := h.resolveServeOrigin(r)
	servePath := h.opts.servePath()

	qp := r.URL.Query()
	syncID := qp.Get("deployId")

	config := registerRequest{
		AppName:    h.appID,
		DeployType: "ping",
		URL:        serveOrigin + servePath,
		V:          requestVersion,
		SDK:        sdkVersionHeader,
		Framework:  "stepwise",
		Functions:  h.registry.manifest(serveOrigin, servePath),
	}

	body, err := json.Marshal(config)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "error marshaling function manifest")
		return
	}

	registerURL := h.registerURL()
	buildRequest := func(key string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, registerURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if syncID != "" {
			rq := req.URL.Query()
			rq.Set("deployId", syncID)
			req.URL.RawQuery = rq.Encode()
		}
		req.Header.Set(headerKeyContentType, "application/json")
		if key != "" {
			if hashed, err := hashedSigningKey(key); err == nil {
				req.Header.Set("Authorization", "Bearer "+hashed)
			}
		}
		return req, nil
	}

	// fetchWithAuthFallback: retry once with the fallback signing key if the
	// primary key is rejected, so a key can be rotated without downtime.
	resp, err := h.fetchWithAuthFallback(buildRequest)
	if err != nil {
		h.opts.logger().Error("error registering functions", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "error performing registration request")
		return
	}
	defer resp.Body.Close()

	var upstream struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Modified bool   `json:"modified"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&upstream)

	if resp.StatusCode > 299 {
		msg := upstream.Error
		if msg == "" {
			msg = fmt.Sprintf("registration failed with status %d", resp.StatusCode)
		}
		writeJSONError(w, http.StatusInternalServerError, msg)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":  "registered",
		"modified": upstream.Modified,
	})
}

// fetchWithAuthFallback sends the request built for the primary signing key
// and, if the executor rejects it with 401, rebuilds and resends it signed
// with the fallback key instead.
func (h *handler) fetchWithAuthFallback(buildRequest func(key string) (*http.Request, error)) (*http.Response, error) {
	req, err := buildRequest(h.opts.signingKey())
	if err != nil {
		return nil, fmt.Errorf("error building registration request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	fallback := h.opts.signingKeyFallback()
	if resp.StatusCode != http.StatusUnauthorized || fallback == "" {
		return resp, nil
	}
	resp.Body.Close()

	req, err = buildRequest(fallback)
	if err != nil {
		return nil, fmt.Errorf("error building registration request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func (h *handler) registerURL() string {
	if h.opts.RegisterURL != nil {
		return *h.opts.RegisterURL
	}
	if IsDev() {
		return DevServerURL() + "/fn/register"
	}
	return defaultAPIOrigin + "/fn/register"
}

func (h *handler) resolveServeOrigin(r *http.Request) string {
	if h.opts.ServeOrigin != nil {
		return *h.opts.ServeOrigin
	}
	if host := serveHostEnv(); host != "" {
		return host
	}
	if r.Host != "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if !strings.Contains(r.Host, "localhost") {
			scheme = "https"
		}
		return fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return devServerOrigin
}

type introspection struct {
	Mode                  string `json:"mode"`
	FunctionCount         int    `json:"function_count"`
	HasEventKey           bool   `json:"has_event_key"`
	HasSigningKey         bool   `json:"has_signing_key"`
	HasSigningKeyFallback bool   `json:"has_signing_key_fallback"`
	SchemaVersion         string `json:"schema_version"`

	AuthenticationSucceeded *bool   `json:"authentication_succeeded,omitempty"`
	SigningKeyHash          *string `json:"signing_key_hash,omitempty"`
	SigningKeyFallbackHash  *string `json:"signing_key_fallback_hash,omitempty"`
	APIOrigin               *string `json:"api_origin,omitempty"`
	EventAPIOrigin          *string `json:"event_api_origin,omitempty"`
	SDKVersion              *string `json:"sdk_version,omitempty"`
	SDKLanguage             *string `json:"sdk_language,omitempty"`
	ServeOrigin             *string `json:"serve_origin,omitempty"`
	ServePath               *string `json:"serve_path,omitempty"`
	SystemMemoryBytes       *uint64 `json:"system_memory_bytes,omitempty"`
}

func (h *handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	h.mu.RLock()
	fnCount := len(h.registry.list())
	h.mu.RUnlock()

	mode := serverKindCloud
	if IsDev() {
		mode = serverKindDev
	}

	resp := introspection{
		Mode:                  mode,
		FunctionCount:         fnCount,
		HasSigningKey:         h.opts.signingKey() != "",
		HasSigningKeyFallback: h.opts.signingKeyFallback() != "",
		SchemaVersion:         schemaVersion,
	}

	if mode == serverKindDev {
		resp.HasEventKey = true
		mem := memory.TotalMemory()
		resp.SystemMemoryBytes = &mem
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	sig := r.Header.Get(headerKeySignature)
	_, verifyErr := verifySignatureWithFallback(sig, h.opts.signingKey(), h.opts.signingKeyFallback(), nil, false)
	succeeded := sig != "" && verifyErr == nil
	resp.AuthenticationSucceeded = &succeeded
	resp.HasEventKey = eventKeyEnv() != ""

	if succeeded {
		if key := h.opts.signingKey(); key != "" {
			if hashed, err := hashedSigningKey(key); err == nil {
				resp.SigningKeyHash = &hashed
			}
		}
		if key := h.opts.signingKeyFallback(); key != "" {
			if hashed, err := hashedSigningKey(key); err == nil {
				resp.SigningKeyFallbackHash = &hashed
			}
		}
		api := defaultAPIOrigin
		eventAPI := defaultEventAPIOrigin
		sdkVer := SDKVersion
		sdkLang := SDKLanguage
		serveOrigin := h.resolveServeOrigin(r)
		servePath := h.opts.servePath()
		resp.APIOrigin = &api
		resp.EventAPIOrigin = &eventAPI
		resp.SDKVersion = &sdkVer
		resp.SDKLanguage = &sdkLang
		resp.ServeOrigin = &serveOrigin
		resp.ServePath = &servePath
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
