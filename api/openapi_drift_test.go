package api

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// openAPIDoc is the part of openapi.yaml the drift test needs.
type openAPIDoc struct {
	Paths map[string]map[string]yaml.Node `yaml:"paths"`
}

var openAPIMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// documentedRoutes returns "METHOD /path" for every operation in openapi.yaml.
func documentedRoutes(t *testing.T) []string {
	t.Helper()
	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc), "parsing openapi.yaml")

	var routes []string
	for path, ops := range doc.Paths {
		for key := range ops {
			method := strings.ToUpper(key)
			if openAPIMethods[method] {
				routes = append(routes, method+" "+path)
			}
		}
	}
	slices.Sort(routes)
	return routes
}

// registeredRoutes walks the router, skipping the documentation routes.
func registeredRoutes(t *testing.T, router chi.Router) []string {
	t.Helper()
	var routes []string
	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if route == "" {
			route = "/"
		}
		if route == "/openapi.yaml" || strings.HasPrefix(route, "/docs") || strings.HasPrefix(route, "/redoc") {
			return nil
		}
		routes = append(routes, method+" "+route)
		return nil
	})
	require.NoError(t, err)
	slices.Sort(routes)
	return slices.Compact(routes)
}

// TestOpenAPIDrift fails when a route is registered in Router() but not
// documented in openapi.yaml, or documented but no longer registered.
// Router() only registers handlers, so a zero-value API is enough.
func TestOpenAPIDrift(t *testing.T) {
	documented := documentedRoutes(t)
	registered := registeredRoutes(t, (&API{}).Router())

	for _, route := range registered {
		assert.Contains(t, documented, route, "route missing from openapi.yaml")
	}
	for _, route := range documented {
		assert.Contains(t, registered, route, "openapi.yaml documents an unregistered route")
	}
}

func TestOpenAPIServedByRouter(t *testing.T) {
	rec := httptest.NewRecorder()
	(&API{}).Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/yaml", rec.Header().Get("Content-Type"))
	assert.Equal(t, openapiSpec, rec.Body.Bytes())
}
