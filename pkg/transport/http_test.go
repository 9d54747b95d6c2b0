package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/morezero/api-server/pkg/apierrors"
)

const httpTestPrefix = "transport:http_test"

func newTestServer(t *testing.T, opts HTTPOptions) *httptest.Server {
	t.Helper()
	if opts.Meta == nil {
		opts.Meta = func() map[string]any { return map[string]any{"apiVersion": "1.2.3"} }
	}
	srv := httptest.NewServer(NewHTTPHandler(newTestDispatcher(t), opts))
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("%s - decode body: %v", httpTestPrefix, err)
	}
	return body
}

func TestHTTP_Calls(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{})

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"plain get", http.MethodGet, "/alice/echo.get", "", http.StatusOK, ""},
		{"create is 201", http.MethodPost, "/alice/things.create", `{}`, http.StatusCreated, ""},
		{"streamed", http.MethodGet, "/alice/items.get", "", http.StatusOK, ""},
		{"api error", http.MethodGet, "/alice/things.fail", "", http.StatusNotFound, apierrors.IDUnknownResource},
		{"unknown method", http.MethodGet, "/alice/nope.get", "", http.StatusNotFound, apierrors.IDInvalidMethod},
		{"bad json", http.MethodPost, "/alice/echo.get", `{"a":`, http.StatusBadRequest, apierrors.IDInvalidRequestStructure},
		{"empty body", http.MethodPost, "/alice/echo.get", "", http.StatusOK, ""},
		{"unknown path", http.MethodGet, "/a/b/c", "", http.StatusBadRequest, apierrors.IDInvalidRequestStructure},
		{"method not allowed", http.MethodDelete, "/alice/echo.get", "", http.StatusMethodNotAllowed, apierrors.IDInvalidRequestStructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s - request failed: %v", httpTestPrefix, err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Errorf("%s - status = %d, want %d", httpTestPrefix, resp.StatusCode, tt.wantCode)
			}
			body := decodeBody(t, resp)
			if _, ok := body["meta"]; !ok {
				t.Errorf("%s - body has no meta: %v", httpTestPrefix, body)
			}
			if tt.wantErr == "" {
				if _, ok := body["error"]; ok {
					t.Errorf("%s - unexpected error body: %v", httpTestPrefix, body)
				}
				return
			}
			errBody, _ := body["error"].(map[string]any)
			if errBody["id"] != tt.wantErr {
				t.Errorf("%s - error = %v, want id %s", httpTestPrefix, body["error"], tt.wantErr)
			}
		})
	}
}

func TestHTTP_QueryParamsAndAuth(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{})

	resp, err := http.Get(srv.URL + "/alice/echo.get?state=all&streams[]=a&streams[]=b&auth=tok")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)

	if body["username"] != "alice" || body["token"] != "tok" || body["source"] != "http" {
		t.Errorf("%s - context fields = %v", httpTestPrefix, body)
	}
	params, _ := body["params"].(map[string]any)
	if params["state"] != "all" {
		t.Errorf("%s - state = %v", httpTestPrefix, params["state"])
	}
	streams, _ := params["streams"].([]any)
	if len(streams) != 2 || streams[0] != "a" || streams[1] != "b" {
		t.Errorf("%s - streams = %v", httpTestPrefix, params["streams"])
	}
	if _, ok := params["auth"]; ok {
		t.Errorf("%s - auth must not be passed as a param", httpTestPrefix)
	}
}

func TestHTTP_AuthorizationHeader(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/alice/echo.get", strings.NewReader(`{"x":1}`))
	req.Header.Set("Authorization", "header-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if body["token"] != "header-token" {
		t.Errorf("%s - token = %v", httpTestPrefix, body["token"])
	}
	if params, _ := body["params"].(map[string]any); params["x"] != 1.0 {
		t.Errorf("%s - params = %v", httpTestPrefix, body["params"])
	}
}

func TestHTTP_StreamedBody(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{})

	resp, err := http.Get(srv.URL + "/alice/items.get")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	want := `{"items":[{"id":"a"},{"id":"b"}],"meta":{"apiVersion":"1.2.3"}}`
	if string(raw) != want {
		t.Errorf("%s - body = %s, want %s", httpTestPrefix, raw, want)
	}
}

func TestHTTP_Gzip(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Errorf("%s - expected a gzip response, got %q", httpTestPrefix, resp.Header.Get("Content-Encoding"))
	}
}

func TestHTTP_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{AllowedOrigins: []string{"https://app.example.com"}})

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.example.com", "https://app.example.com"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/alice/echo.get", nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("%s - origin %s: allow-origin = %q, want %q", httpTestPrefix, tt.origin, got, tt.want)
		}
	}
}

func TestHTTP_Health(t *testing.T) {
	tests := []struct {
		name     string
		health   func(context.Context) error
		wantCode int
		want     string
	}{
		{"no check", nil, http.StatusOK, "healthy"},
		{"passing", func(context.Context) error { return nil }, http.StatusOK, "healthy"},
		{"failing", func(context.Context) error { return errors.New("db down") }, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, HTTPOptions{Health: tt.health})
			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Errorf("%s - status = %d, want %d", httpTestPrefix, resp.StatusCode, tt.wantCode)
			}
			if body := decodeBody(t, resp); body["status"] != tt.want {
				t.Errorf("%s - status field = %v, want %s", httpTestPrefix, body["status"], tt.want)
			}
		})
	}
}

func TestHTTP_Ready(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{})
	resp, err := http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	if body := decodeBody(t, resp); body["status"] != "ready" {
		t.Errorf("%s - ready body = %v", httpTestPrefix, body)
	}
}

func TestHTTP_HomePage(t *testing.T) {
	srv := newTestServer(t, HTTPOptions{ServiceName: "Pryv Lab", APIVersion: "1.2.3"})
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	page := string(raw)
	for _, want := range []string{"Pryv Lab", "1.2.3", "echo.get", "items.get"} {
		if !strings.Contains(page, want) {
			t.Errorf("%s - home page missing %q", httpTestPrefix, want)
		}
	}
}

func TestHTTP_OpenAPI(t *testing.T) {
	schemas := map[string]map[string]any{
		"echo.get": {"type": "object", "properties": map[string]any{"a": map[string]any{"type": "number"}}},
	}
	srv := newTestServer(t, HTTPOptions{ParamSchemas: schemas, APIVersion: "1.2.3"})
	resp, err := http.Get(srv.URL + "/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	paths, _ := body["paths"].(map[string]any)
	if len(paths) != 4 {
		t.Errorf("%s - %d paths, want 4", httpTestPrefix, len(paths))
	}
	if _, ok := paths["/{username}/echo.get"]; !ok {
		t.Errorf("%s - echo.get path missing: %v", httpTestPrefix, paths)
	}
	if info, _ := body["info"].(map[string]any); info["version"] != "1.2.3" {
		t.Errorf("%s - info = %v", httpTestPrefix, body["info"])
	}
}

func TestBuildOpenAPISpec_DefaultSchema(t *testing.T) {
	spec := buildOpenAPISpec("t", "", []string{"a.get"}, nil)
	op := spec.Paths["/{username}/a.get"].Post
	if op == nil || op.RequestBody.Content["application/json"].Schema["type"] != "object" {
		t.Errorf("%s - default schema missing: %+v", httpTestPrefix, op)
	}
	if spec.Info.Version != "0.0.0" {
		t.Errorf("%s - version = %s", httpTestPrefix, spec.Info.Version)
	}
}
