package handlers

import (
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
)

// OpenAPIPath is where OpenAPISpec is mounted.
const OpenAPIPath = "/api/docs/openapi.json"

var swaggerTemplate = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [SwaggerUIBundle.presets.apis]
            });
        };
    </script>
</body>
</html>`))

// SwaggerUI serves the interactive documentation page for OpenAPISpec
func SwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	swaggerTemplate.Execute(w, struct {
		Title   string
		SpecURL string
	}{
		Title:   "Hawaii Climate API Documentation",
		SpecURL: OpenAPIPath,
	})
}

// RegisterDocsRoutes mounts the documentation endpoints.
func RegisterDocsRoutes(router *mux.Router) {
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc(OpenAPIPath, OpenAPISpec).Methods("GET")
}
