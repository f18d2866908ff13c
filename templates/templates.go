// Package templates embeds the HTML pages rendered by the server.
package templates

import (
	"embed"
	"html/template"

	"github.com/dustin/go-humanize"
)

// Page names accepted by gin's c.HTML.
const (
	Index  = "index.html"
	Upload = "upload.html"
	Result = "result.html"
	Error  = "error.html"
)

// Embed the templates directory.
//
//go:embed *.html
var TemplatesFS embed.FS

// Funcs are the helpers available to every page.
var Funcs = template.FuncMap{
	"bytes": func(n int) string { return humanize.Bytes(uint64(max(n, 0))) },
}

// Parse loads every embedded page.
func Parse() (*template.Template, error) {
	return template.New("").Funcs(Funcs).ParseFS(TemplatesFS, "*.html")
}
