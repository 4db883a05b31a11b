// Package page fills HTML templates by sentinel splicing.
//
// A template contains a content-start marker followed by a content-end
// marker. Filling keeps everything before the start marker and everything
// from the end marker on, drops what lies between, and puts the rendered
// content in its place. Placeholders are replaced in the kept parts only.
package page

import (
	"embed"
	"html"
	"os"
	"strings"

	perrors "github.com/FocuswithJustin/parseweb/core/errors"
)

// Sentinel markers.
const (
	ContentStart = "<!-- CONTENT-START -->"
	ContentEnd   = "<!-- CONTENT-END -->"
)

// Placeholders substituted in the header and trailer.
const (
	PlaceholderServerURL = "{{ SERVER_URL }}"
	PlaceholderOptions   = "{{ OPTIONS }}"
	PlaceholderLanguage  = "{{ LANGUAGE }}"
	PlaceholderDBName    = "{{ DBNAME }}"
	PlaceholderQuery     = "{{ QUERY }}"
	PlaceholderError     = "{{ ERROR }}"
)

// Block wrapping for parser output.
const (
	blockStart = `<pre><code class="conllu">`
	blockEnd   = `</code></pre>`
)

//go:embed templates/index.html
var templatesFS embed.FS

// Data is everything a filled page can show.
type Data struct {
	Content   string   // trusted HTML placed between the markers
	Error     string   // plain-text message for the error banner, empty for none
	Selected  string   // requested selection
	Default   string   // selection used when Selected is not in Options
	Options   []string // selections in display order
	Metadata  string   // auxiliary metadata for the selection
	Query     string   // submitted text
	ServerURL string
}

// Template is a parsed sentinel template.
type Template struct {
	name    string
	header  string
	trailer string
}

// Parse splits text at the content markers.
func Parse(name, text string) (*Template, error) {
	start := strings.Index(text, ContentStart)
	if start < 0 {
		return nil, &perrors.TemplateMalformedError{Name: name, Marker: ContentStart}
	}
	end := strings.Index(text[start+len(ContentStart):], ContentEnd)
	if end < 0 {
		return nil, &perrors.TemplateMalformedError{Name: name, Marker: ContentEnd}
	}
	end += start + len(ContentStart)

	return &Template{
		name:    name,
		header:  text[:start],
		trailer: text[end:],
	}, nil
}

// Load reads and parses a template file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.NewIO("read", path, err)
	}
	return Parse(path, string(data))
}

// Default returns the embedded page.
func Default() *Template {
	data, err := templatesFS.ReadFile("templates/index.html")
	if err != nil {
		panic(err)
	}
	t, err := Parse("index.html", string(data))
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name or path.
func (t *Template) Name() string {
	return t.name
}

// Fill renders the page for d.
func (t *Template) Fill(d Data) string {
	selected := SelectedName(d.Options, d.Selected, d.Default)
	r := strings.NewReplacer(
		PlaceholderServerURL, html.EscapeString(d.ServerURL),
		PlaceholderOptions, RenderOptions(d.Options, selected),
		PlaceholderLanguage, html.EscapeString(selected),
		PlaceholderDBName, html.EscapeString(d.Metadata),
		PlaceholderQuery, html.EscapeString(d.Query),
		PlaceholderError, ErrorBanner(d.Error),
	)

	var b strings.Builder
	b.Grow(len(t.header) + len(d.Content) + len(t.trailer) + 256)
	_, _ = r.WriteString(&b, t.header)
	b.WriteString(d.Content)
	_, _ = r.WriteString(&b, t.trailer)
	return b.String()
}

// Fill parses templateText and fills it in one step.
func Fill(templateText string, d Data) (string, error) {
	t, err := Parse("template", templateText)
	if err != nil {
		return "", err
	}
	return t.Fill(d), nil
}

// SelectedName picks the option to mark: requested when it is listed,
// otherwise def when listed, otherwise the first option.
func SelectedName(options []string, requested, def string) string {
	var first string
	hasDefault := false
	for i, name := range options {
		if i == 0 {
			first = name
		}
		if name == requested {
			return requested
		}
		if name == def {
			hasDefault = true
		}
	}
	if hasDefault {
		return def
	}
	return first
}

// RenderOptions renders one <option> per name, newline separated, marking
// selected.
func RenderOptions(names []string, selected string) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		escaped := html.EscapeString(name)
		b.WriteString(`<option value="`)
		b.WriteString(escaped)
		b.WriteByte('"')
		if name == selected {
			b.WriteString(` selected="selected"`)
		}
		b.WriteByte('>')
		b.WriteString(escaped)
		b.WriteString("</option>")
	}
	return b.String()
}

// ErrorBanner renders msg as the error banner, or "" for an empty message.
func ErrorBanner(msg string) string {
	if msg == "" {
		return ""
	}
	return `<div style="background-color:black; color:white; padding:20px;"><p>` +
		html.EscapeString(msg) + `</p></div>`
}

// RenderBlocks escapes each parser output block and wraps it for display.
func RenderBlocks(blocks []string) string {
	var b strings.Builder
	for _, block := range blocks {
		b.WriteString(blockStart)
		b.WriteString(html.EscapeString(block))
		b.WriteString("\n\n")
		b.WriteString(blockEnd)
	}
	return b.String()
}
