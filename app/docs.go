package app

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

//go:embed docs/*.md
var docsFS embed.FS

//go:embed templates/*.html
var webTemplatesFS embed.FS

// DocPage represents a parsed documentation page
type DocPage struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Order       int    `yaml:"order"`
	Slug        string `yaml:"-"`
	Content     template.HTML
}

// DocsData holds template data for docs pages
type DocsData struct {
	Title       string
	Description string
	Content     template.HTML
	CurrentPath string
	Version     string
	Nav         []NavPage
}

// NavPage is one entry of the docs sidebar.
type NavPage struct {
	Title string
	Slug  string
}

// DocsManager handles documentation serving
type DocsManager struct {
	pages    map[string]*DocPage
	docsTmpl *template.Template
	md       goldmark.Markdown
	version  string
	nav      []NavPage
}

// NewDocsManager creates a new documentation manager
func NewDocsManager(version string) (*DocsManager, error) {
	dm := &DocsManager{
		pages:   make(map[string]*DocPage),
		version: version,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Table),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}

	var err error
	dm.docsTmpl, err = template.ParseFS(webTemplatesFS, "templates/docs_base.html", "templates/docs_content.html")
	if err != nil {
		return nil, err
	}

	if err := dm.loadDocs(); err != nil {
		return nil, err
	}
	dm.buildNav()

	return dm, nil
}

// loadDocs walks the docs directory and parses all markdown files
func (dm *DocsManager) loadDocs() error {
	return fs.WalkDir(docsFS, "docs", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}

		content, err := docsFS.ReadFile(path)
		if err != nil {
			return err
		}

		page, err := dm.parsePage(content)
		if err != nil {
			return err
		}

		// docs/index.md -> /docs/
		// docs/backend.md -> /docs/backend
		slug := strings.TrimSuffix(strings.TrimPrefix(path, "docs/"), ".md")
		if slug == "index" {
			slug = ""
		}
		page.Slug = "/docs/" + slug

		dm.pages[page.Slug] = page
		return nil
	})
}

// buildNav orders pages by their frontmatter order, then title.
func (dm *DocsManager) buildNav() {
	pages := make([]*DocPage, 0, len(dm.pages))
	for _, p := range dm.pages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Order != pages[j].Order {
			return pages[i].Order < pages[j].Order
		}
		return pages[i].Title < pages[j].Title
	})
	dm.nav = dm.nav[:0]
	for _, p := range pages {
		dm.nav = append(dm.nav, NavPage{Title: p.Title, Slug: p.Slug})
	}
}

// parsePage extracts frontmatter and renders markdown
func (dm *DocsManager) parsePage(content []byte) (*DocPage, error) {
	page := &DocPage{}

	if bytes.HasPrefix(content, []byte("---\n")) {
		parts := bytes.SplitN(content[4:], []byte("\n---\n"), 2)
		if len(parts) == 2 {
			if err := yaml.Unmarshal(parts[0], page); err != nil {
				return nil, err
			}
			content = parts[1]
		}
	}

	var buf bytes.Buffer
	if err := dm.md.Convert(content, &buf); err != nil {
		return nil, err
	}
	page.Content = template.HTML(buf.String())

	return page, nil
}

// Nav returns the sidebar entries in display order.
func (dm *DocsManager) Nav() []NavPage {
	return append([]NavPage(nil), dm.nav...)
}

// RegisterRoutes mounts the docs pages under /docs.
func (dm *DocsManager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/docs", dm.ServeDocs)
	mux.HandleFunc("/docs/", dm.ServeDocs)
}

// ServeDocs handles documentation pages at /docs/*
func (dm *DocsManager) ServeDocs(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/docs" {
		http.Redirect(w, r, "/docs/", http.StatusMovedPermanently)
		return
	}
	if path != "/docs/" {
		path = strings.TrimSuffix(path, "/")
	}

	page, ok := dm.pages[path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	data := DocsData{
		Title:       page.Title,
		Description: page.Description,
		Content:     page.Content,
		CurrentPath: path,
		Version:     dm.version,
		Nav:         dm.nav,
	}

	var buf bytes.Buffer
	if err := dm.docsTmpl.ExecuteTemplate(&buf, "docs_base", data); err != nil {
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
