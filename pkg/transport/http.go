package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"

	"github.com/morezero/api-server/pkg/api"
	"github.com/morezero/api-server/pkg/apierrors"
	"github.com/morezero/api-server/pkg/result"
)

const logPrefix = "transport:http"

// maxBodyBytes caps the JSON body of a POST call.
const maxBodyBytes = 10 << 20

// authParam is the query parameter that may carry the access token.
const authParam = "auth"

// HTTPOptions configures NewHTTPHandler.
type HTTPOptions struct {
	// Meta is added to error bodies.
	Meta           result.MetaFunc
	AllowedOrigins []string
	// Health reports whether the service can take calls; nil means always healthy.
	Health        func(ctx context.Context) error
	HealthTimeout time.Duration
	// CallTimeout bounds WebSocket calls.
	CallTimeout time.Duration
	ServiceName string
	APIVersion  string
	// ParamSchemas are the JSON schemas of method params, for /openapi.json.
	ParamSchemas map[string]map[string]any
}

type httpServer struct {
	d    *api.Dispatcher
	opts HTTPOptions
}

// NewHTTPHandler returns the HTTP API of d:
//
//	GET  /                       home page
//	GET  /health, /ready         probes
//	GET  /openapi.json           OpenAPI description of the methods
//	GET  /ws/{username}          WebSocket calls
//	GET  /{username}/{method}    call with query-string params
//	POST /{username}/{method}    call with a JSON body
func NewHTTPHandler(d *api.Dispatcher, opts HTTPOptions) http.Handler {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	s := &httpServer{d: d, opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHome()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/{username}/{method}", s.handleCall).Methods(http.MethodGet, http.MethodPost)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, apierrors.InvalidRequestStructure("Unknown path"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, apierrors.New(apierrors.IDInvalidRequestStructure,
			fmt.Sprintf("Method %s not allowed", req.Method), http.StatusMethodNotAllowed))
	})

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"API-Version"},
		MaxAge:         600,
	})
	// WebSocket upgrades bypass the gzip writer, which cannot be hijacked.
	root := mux.NewRouter()
	root.Handle("/ws/{username}", newWebSocketHandler(d, opts.AllowedOrigins, opts.CallTimeout)).Methods(http.MethodGet)
	root.PathPrefix("/").Handler(gzhttp.GzipHandler(r))
	return c.Handler(root)
}

func (s *httpServer) handleCall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	methodID := vars["method"]

	params, token, err := readParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	mc := s.d.NewMethodContext(r.Context(), methodID, vars["username"], api.SourceHTTP)
	mc.AccessToken = token

	res, err := s.d.Call(r.Context(), mc, params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	code := http.StatusOK
	if strings.HasSuffix(methodID, ".create") {
		code = http.StatusCreated
	}
	if err := res.WriteToHTTPResponse(r.Context(), w, code); err != nil {
		// Headers are gone; the client sees a truncated body.
		slog.Warn(fmt.Sprintf("%s - writing %s for %s failed: %v", logPrefix, methodID, mc.CallID, err))
	}
}

// readParams collects call params from the query string (GET) or the JSON
// body (POST), and the access token from the Authorization header or the
// "auth" query parameter.
func readParams(r *http.Request) (api.Params, string, error) {
	query := r.URL.Query()
	token := r.Header.Get("Authorization")
	if token == "" {
		token = query.Get(authParam)
	}
	query.Del(authParam)

	if r.Method == http.MethodGet {
		params := api.Params{}
		for key, values := range query {
			key = strings.TrimSuffix(key, "[]")
			if len(values) == 1 {
				params[key] = values[0]
			} else {
				params[key] = values
			}
		}
		return params, token, nil
	}

	params := api.Params{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		return nil, "", apierrors.InvalidRequestStructure("Request body must be a JSON object: " + err.Error())
	}
	return params, token, nil
}

// writeError writes err as {"error": {...}, "meta": {...}}.
func (s *httpServer) writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierrors.AsAPIError(err)
	if !ok {
		apiErr = apierrors.UnexpectedError(err)
	}
	body := map[string]any{"error": apiErr}
	if s.opts.Meta != nil {
		body["meta"] = s.opts.Meta()
	}
	writeJSON(w, apiErr.HTTPStatus, body)
}

func (s *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "healthy", "methods": len(s.d.GetMethodKeys())}
	code := http.StatusOK
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.HealthTimeout)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			status["status"] = "unhealthy"
			status["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

func (s *httpServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", logPrefix, err))
	}
}
