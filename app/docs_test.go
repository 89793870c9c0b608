package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocsManager_Nav(t *testing.T) {
	dm, err := NewDocsManager("v1.0.0")
	require.NoError(t, err)

	nav := dm.Nav()
	require.Len(t, nav, 5)
	assert.Equal(t, NavPage{Title: "Overview", Slug: "/docs/"}, nav[0])
	assert.Equal(t, "/docs/dashboard", nav[1].Slug)
	assert.Equal(t, "/docs/operations", nav[4].Slug)
}

func TestDocsManager_ServeDocs(t *testing.T) {
	dm, err := NewDocsManager("v1.0.0")
	require.NoError(t, err)
	mux := http.NewServeMux()
	dm.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/docs/", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Overview</h1>")
	assert.Contains(t, rec.Body.String(), "v1.0.0")
	assert.Contains(t, rec.Body.String(), `<a href="/docs/" class="active">Overview</a>`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/backend/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alert archive")
	assert.Contains(t, rec.Body.String(), "<table>")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParsePage_Frontmatter(t *testing.T) {
	dm, err := NewDocsManager("")
	require.NoError(t, err)

	page, err := dm.parsePage([]byte("---\ntitle: Hello\norder: 7\n---\n# Heading\n\ntext\n"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", page.Title)
	assert.Equal(t, 7, page.Order)
	assert.Contains(t, string(page.Content), `<h1 id="heading">Heading</h1>`)

	page, err = dm.parsePage([]byte("no frontmatter"))
	require.NoError(t, err)
	assert.Empty(t, page.Title)
	assert.Contains(t, string(page.Content), "<p>no frontmatter</p>")
}
