package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/todoapi/auth"
	"github.com/jmcleod/todoapi/todo"
	"github.com/jmcleod/todoapi/user"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	users    *user.Service
	todos    *todo.Service
	sessions *auth.SessionManager
	logger   *slog.Logger
	audit    *auditLogger
	alertFn  AlertFunc

	webhookURL    string
	webhookHeader string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and internal
// errors. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAlertFunc registers a callback invoked when authentication failures
// spike. See AlertEvent.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook forwards every audit record as JSON to url. header, if
// set, is sent with each request in "Name: Value" form. Call Close to flush
// pending records.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// New creates a new API instance.
func New(users *user.Service, todos *todo.Service, sessions *auth.SessionManager, opts ...Option) *API {
	a := &API{
		users:    users,
		todos:    todos,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	return a
}

// Close flushes pending audit webhook deliveries.
func (a *API) Close() {
	if a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// Router returns a chi.Router with all API routes. It is meant to be
// mounted at /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Get("/csrf-token", a.CSRFToken)
	r.Post("/register", a.Register)
	r.Post("/login", a.Login)
	r.Post("/logout", a.Logout)
	r.With(a.RequireSession).Get("/user", a.CurrentUser)

	r.With(a.RequireSessionCSRF).Post("/todo", a.CreateTodo)
	r.With(a.RequireSession).Get("/todos", a.ListTodos)
	r.Route("/todos/{id}", func(r chi.Router) {
		r.With(a.RequireSession).Get("/", a.GetTodo)
		r.With(a.RequireSessionCSRF).Put("/", a.UpdateTodo)
		r.With(a.RequireSessionCSRF).Delete("/", a.DeleteTodo)
	})

	return r
}
