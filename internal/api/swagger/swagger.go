// Package swagger serves the API documentation.
package swagger

import (
	_ "embed"
	"html/template"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed openapi.yaml
var openAPISpec []byte

const uiVersion = "5.11.0"

var page = template.Must(template.New("ui").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@{{.Version}}/swagger-ui.css">
  <style>body { margin: 0 } .swagger-ui .topbar { display: none }</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@{{.Version}}/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      window.ui = SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        deepLinking: true,
        docExpansion: "list",
        filter: true,
        persistAuthorization: true
      });
    };
  </script>
</body>
</html>
`))

type uiPage struct {
	Title   string
	Version string
	SpecURL string
}

// Handler serves openapi.yaml and, for any other path under its mount point,
// a Swagger UI page pointing at that document.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/openapi.yaml") {
			w.Header().Set("Content-Type", "application/x-yaml")
			_, _ = w.Write(openAPISpec)
			return
		}
		base := strings.TrimSuffix(r.URL.Path, "/")
		if path.Base(base) != "swagger" {
			base = path.Dir(base)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := page.Execute(w, uiPage{
			Title:   "meterbill API",
			Version: uiVersion,
			SpecURL: base + "/openapi.yaml",
		})
		if err != nil {
			log.Error().Err(err).Msg("render swagger ui")
		}
	})
}
