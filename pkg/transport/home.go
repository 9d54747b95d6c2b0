package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
)

// homePageTemplate lists the methods served (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Name}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <p class="meta">API version {{.APIVersion}}. <a href="/openapi.json">OpenAPI description</a></p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Status}}">{{.Status}}</span></p>
    {{if .HealthError}}<p class="status-unhealthy">{{.HealthError}}</p>{{end}}
  </section>

  <section>
    <h2>Methods</h2>
    {{if not .Methods}}
    <p>No methods registered.</p>
    {{else}}
    <table>
      <thead><tr><th>Method</th><th>Call</th><th>Params schema</th></tr></thead>
      <tbody>
        {{range .Methods}}
        <tr><td>{{.ID}}</td><td>/{username}/{{.ID}}</td><td>{{if .HasSchema}}yes{{else}}none{{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

type homeMethod struct {
	ID        string
	HasSchema bool
}

// homeData is the data passed to the home page template.
type homeData struct {
	Name        string
	APIVersion  string
	Status      string
	HealthError string
	Methods     []homeMethod
}

// handleHome returns an HTTP handler for the home page.
func (s *httpServer) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		data := homeData{Name: s.opts.ServiceName, APIVersion: s.opts.APIVersion, Status: "healthy"}
		if data.Name == "" {
			data.Name = "API server"
		}
		if s.opts.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), s.opts.HealthTimeout)
			defer cancel()
			if err := s.opts.Health(ctx); err != nil {
				data.Status = "unhealthy"
				data.HealthError = err.Error()
			}
		}
		for _, id := range s.d.GetMethodKeys() {
			_, ok := s.opts.ParamSchemas[id]
			data.Methods = append(data.Methods, homeMethod{ID: id, HasSchema: ok})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// openAPI3 types for describing the registered methods.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Parameter struct {
	Name     string         `json:"name"`
	In       string         `json:"in"`
	Required bool           `json:"required"`
	Schema   map[string]any `json:"schema"`
}

type openAPI3Operation struct {
	OperationID string                      `json:"operationId"`
	Parameters  []openAPI3Parameter         `json:"parameters"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string `json:"description"`
}

type openAPI3MediaType struct {
	Schema map[string]any `json:"schema,omitempty"`
}

// buildOpenAPISpec describes one POST path per method id.
func buildOpenAPISpec(title, version string, methodIDs []string, schemas map[string]map[string]any) *openAPI3Spec {
	paths := make(map[string]openAPI3PathItem, len(methodIDs))
	for _, id := range methodIDs {
		schema := schemas[id]
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		paths["/{username}/"+id] = openAPI3PathItem{
			Post: &openAPI3Operation{
				OperationID: id,
				Parameters: []openAPI3Parameter{
					{Name: "username", In: "path", Required: true, Schema: map[string]any{"type": "string"}},
				},
				RequestBody: &openAPI3RequestBody{
					Content: map[string]openAPI3MediaType{"application/json": {Schema: schema}},
				},
				Responses: map[string]openAPI3Response{
					"200":     {Description: "Success"},
					"default": {Description: "Error"},
				},
			},
		}
	}
	if version == "" {
		version = "0.0.0"
	}
	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info:    openAPI3Info{Title: title, Version: version},
		Paths:   paths,
	}
}

func (s *httpServer) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	title := s.opts.ServiceName
	if title == "" {
		title = "API server"
	}
	spec := buildOpenAPISpec(title, s.opts.APIVersion, s.d.GetMethodKeys(), s.opts.ParamSchemas)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	if err := json.NewEncoder(w).Encode(spec); err != nil {
		slog.Error(fmt.Sprintf("%s - openapi json encode: %v", logPrefix, err))
	}
}
