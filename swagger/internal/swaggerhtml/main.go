// Command swaggerhtml wraps a swagger.json document in a self-contained
// Swagger UI page.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"html/template"
	"os"
)

var page = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>body { margin: 0; background: #f7f7f7; }</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        spec: {{.Spec}},
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
        layout: 'BaseLayout'
      });
    };
  </script>
</body>
</html>
`))

func render(spec []byte, title string) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, spec); err != nil {
		return nil, fmt.Errorf("compact spec: %w", err)
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Spec  template.JS
	}{Title: title, Spec: template.JS(compact.String())})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return out.Bytes(), nil
}

func main() {
	specPath := flag.String("spec", "", "path to swagger.json")
	outPath := flag.String("out", "", "path to generated swagger HTML")
	title := flag.String("title", "roomd API reference", "page title")
	flag.Parse()
	if *specPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: swaggerhtml -spec swagger.json -out swagger.html")
		os.Exit(2)
	}
	spec, err := os.ReadFile(*specPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read spec: %v\n", err)
		os.Exit(1)
	}
	html, err := render(spec, *title)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outPath, html, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write html: %v\n", err)
		os.Exit(1)
	}
}
