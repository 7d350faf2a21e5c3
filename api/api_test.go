package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/todoapi/api"
	"github.com/jmcleod/todoapi/auth"
	"github.com/jmcleod/todoapi/storage/memory"
	"github.com/jmcleod/todoapi/todo"
	"github.com/jmcleod/todoapi/user"
)

const (
	testEmail    = "u1@example.com"
	testPassword = "Aa1!aaaaaaaa"
)

// syncBuffer is a bytes.Buffer safe for use by the server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	*httptest.Server
	logs *syncBuffer

	mu  sync.Mutex
	now time.Time
}

func (s *testServer) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testServer) advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

func setupServer(t *testing.T, opts ...api.Option) *testServer {
	t.Helper()
	s := &testServer{
		logs: &syncBuffer{},
		now:  time.Now().Truncate(time.Second),
	}

	codec, err := auth.NewTokenCodec([]byte("test-jwt-secret"), auth.WithClock(s.clock))
	require.NoError(t, err)
	csrf, err := auth.NewCSRFProtector([]byte("test-csrf-secret"), auth.WithCSRFClock(s.clock))
	require.NoError(t, err)

	repo := memory.NewRepository()
	a := api.New(
		user.NewService(repo, auth.NewHasher(bcrypt.MinCost), codec),
		todo.NewService(repo),
		auth.NewSessionManager(codec, csrf),
		append([]api.Option{api.WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil)))}, opts...)...,
	)
	t.Cleanup(a.Close)
	r := chi.NewRouter()
	r.Use(api.SecurityHeaders)
	r.Mount("/api", a.Router())

	s.Server = httptest.NewTLSServer(r)
	t.Cleanup(s.Close)
	return s
}

// testClient is a browser-like client: it keeps cookies and echoes the
// CSRF token it was given in the X-CSRF-Token header.
type testClient struct {
	*http.Client
	base string
	csrf string
}

func (s *testServer) newClient(t *testing.T) *testClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{
		Client: &http.Client{Transport: s.Client().Transport, Jar: jar},
		base:   s.URL,
	}
}

func (c *testClient) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reqBody io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		reqBody = &buf
	}
	req, err := http.NewRequestWithContext(t.Context(), method, c.base+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set(auth.DefaultCSRFHeaderName, c.csrf)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *testClient) cookie(t *testing.T, name string) string {
	t.Helper()
	u, err := url.Parse(c.base)
	require.NoError(t, err)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *testClient) setCookie(t *testing.T, name, value string) {
	t.Helper()
	u, err := url.Parse(c.base)
	require.NoError(t, err)
	c.Jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/", Secure: true}})
}

func (c *testClient) fetchCSRF(t *testing.T) {
	t.Helper()
	resp := c.do(t, http.MethodGet, "/api/csrf-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body api.CSRFTokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.CSRFToken)
	c.csrf = body.CSRFToken
}

func (c *testClient) register(t *testing.T, email, password string) *http.Response {
	t.Helper()
	return c.do(t, http.MethodPost, "/api/register", api.UserBody{Email: email, Password: password})
}

func (c *testClient) login(t *testing.T, email, password string) *http.Response {
	t.Helper()
	return c.do(t, http.MethodPost, "/api/login", api.UserBody{Email: email, Password: password})
}

// signIn registers testEmail and logs in, leaving a session cookie in the jar.
func (c *testClient) signIn(t *testing.T) {
	t.Helper()
	c.fetchCSRF(t)
	require.Equal(t, http.StatusOK, c.register(t, testEmail, testPassword).StatusCode)
	require.Equal(t, http.StatusOK, c.login(t, testEmail, testPassword).StatusCode)
	require.NotEmpty(t, c.cookie(t, auth.SessionCookieName))
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requireDetail(t *testing.T, resp *http.Response, status int, detail string) api.ErrorResponse {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, detail, body.Detail)
	return body
}

func TestRegisterLoginCurrentUser(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.fetchCSRF(t)
	assert.NotEmpty(t, c.cookie(t, auth.DefaultCSRFCookieName))

	resp := c.register(t, testEmail, testPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	registered := decodeBody[api.UserInfo](t, resp)
	assert.NotEmpty(t, registered.ID)
	assert.Equal(t, testEmail, registered.Email)
	assert.Empty(t, c.cookie(t, auth.SessionCookieName), "register does not log in")

	resp = c.login(t, testEmail, testPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Login successful", decodeBody[api.MessageResponse](t, resp).Message)
	loginCookie := c.cookie(t, auth.SessionCookieName)
	require.True(t, strings.HasPrefix(loginCookie, "Bearer "), "cookie %q", loginCookie)

	resp = c.do(t, http.MethodGet, "/api/user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, registered, decodeBody[api.UserInfo](t, resp))

	reissued := c.cookie(t, auth.SessionCookieName)
	assert.True(t, strings.HasPrefix(reissued, "Bearer "))
	assert.NotEqual(t, loginCookie, reissued)

	logs := srv.logs.String()
	assert.Contains(t, logs, `"event":"register"`)
	assert.Contains(t, logs, `"event":"login_success"`)
	assert.NotContains(t, logs, testPassword)
}

func TestSessionCookieAttributes(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.fetchCSRF(t)
	require.Equal(t, http.StatusOK, c.register(t, testEmail, testPassword).StatusCode)

	resp := c.login(t, testEmail, testPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.SessionCookieName {
			session = ck
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.True(t, session.Secure)
	assert.Equal(t, http.SameSiteNoneMode, session.SameSite)
	assert.Equal(t, "/", session.Path)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestRegisterConflict(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.fetchCSRF(t)

	require.Equal(t, http.StatusOK, c.register(t, testEmail, testPassword).StatusCode)
	requireDetail(t, c.register(t, testEmail, testPassword), http.StatusConflict, "User already exists")
}

func TestRegisterWeakPassword(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.fetchCSRF(t)

	tests := []struct {
		password string
		detail   string
	}{
		{"1Aa!aaaaaaaa", "Password must start with an alphabet"},
		{"Aa1!aaa", "Password must be at least 12 characters long"},
		{"aa1!aaaaaaaa", "Password must contain at least one uppercase letter"},
		{"AA1!AAAAAAAA", "Password must contain at least one lowercase letter"},
		{"Aa!aaaaaaaaa", "Password must contain at least one digit"},
		{"Aa1aaaaaaaaa", "Password must contain at least one symbol"},
		{"Aa1!" + strings.Repeat("a", 80), "Password must be at most 72 bytes long"},
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			requireDetail(t, c.register(t, "weak@example.com", tt.password), http.StatusBadRequest, tt.detail)
		})
	}
}

func TestRegisterMalformedBody(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.fetchCSRF(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/register", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set(auth.DefaultCSRFHeaderName, c.csrf)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCSRFFailures(t *testing.T) {
	srv := setupServer(t)

	t.Run("missing cookie", func(t *testing.T) {
		c := srv.newClient(t)
		body := requireDetail(t, c.register(t, testEmail, testPassword),
			http.StatusUnauthorized, "Missing Cookie: `csrf_token`.")
		assert.Equal(t, srv.URL+"/api/register", body.URL)
	})

	t.Run("missing header", func(t *testing.T) {
		c := srv.newClient(t)
		c.fetchCSRF(t)
		c.csrf = ""
		requireDetail(t, c.login(t, testEmail, testPassword),
			http.StatusUnauthorized, `Bad headers. Expected "X-CSRF-Token" in headers`)
	})

	t.Run("header from another pair", func(t *testing.T) {
		a, b := srv.newClient(t), srv.newClient(t)
		a.fetchCSRF(t)
		b.fetchCSRF(t)
		a.csrf = b.csrf
		requireDetail(t, a.register(t, testEmail, testPassword),
			http.StatusUnauthorized, "The CSRF signatures do not match.")
	})

	t.Run("forged cookie", func(t *testing.T) {
		c := srv.newClient(t)
		c.fetchCSRF(t)
		c.setCookie(t, auth.DefaultCSRFCookieName, "forged")
		requireDetail(t, c.register(t, testEmail, testPassword),
			http.StatusUnauthorized, "The CSRF token is invalid.")
	})

	t.Run("expired pair", func(t *testing.T) {
		c := srv.newClient(t)
		c.fetchCSRF(t)
		srv.advance(auth.DefaultCSRFMaxAge)
		requireDetail(t, c.register(t, testEmail, testPassword),
			http.StatusUnauthorized, "The CSRF token has expired.")
	})

	assert.Contains(t, srv.logs.String(), `"event":"csrf_rejected"`)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.fetchCSRF(t)
	require.Equal(t, http.StatusOK, c.register(t, testEmail, testPassword).StatusCode)

	requireDetail(t, c.login(t, testEmail, "Aa1!bbbbbbbb"), http.StatusBadRequest, "Invalid email or password")
	requireDetail(t, c.login(t, "nobody@example.com", testPassword), http.StatusBadRequest, "Invalid email or password")
	assert.Empty(t, c.cookie(t, auth.SessionCookieName))
	assert.Contains(t, srv.logs.String(), `"event":"login_failure"`)
}

func TestAuditWebhookReceivesEvents(t *testing.T) {
	events := make(chan map[string]string, 16)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt map[string]string
		if json.NewDecoder(r.Body).Decode(&evt) == nil {
			events <- evt
		}
	}))
	t.Cleanup(collector.Close)

	srv := setupServer(t, api.WithAuditWebhook(collector.URL, ""))
	c := srv.newClient(t)
	c.fetchCSRF(t)
	require.Equal(t, http.StatusOK, c.register(t, testEmail, testPassword).StatusCode)

	select {
	case evt := <-events:
		assert.Equal(t, "register", evt["event"])
		assert.Equal(t, testEmail, evt["email"])
	case <-time.After(5 * time.Second):
		t.Fatal("collector received no audit event")
	}
}

func TestCurrentUserRequiresSession(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)

	body := requireDetail(t, c.do(t, http.MethodGet, "/api/user", nil), http.StatusUnauthorized, "Token is missing")
	assert.Equal(t, srv.URL+"/api/user", body.URL)

	c.setCookie(t, auth.SessionCookieName, "Bearer garbage")
	requireDetail(t, c.do(t, http.MethodGet, "/api/user", nil), http.StatusUnauthorized, "Invalid token")
	assert.Contains(t, srv.logs.String(), `"event":"token_rejected"`)
}

func TestSessionExpiry(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.signIn(t)

	srv.advance(auth.DefaultTokenTTL - time.Second)
	require.Equal(t, http.StatusOK, c.do(t, http.MethodGet, "/api/user", nil).StatusCode)

	// The reissued token is valid for a full lifetime from now.
	srv.advance(auth.DefaultTokenTTL - time.Second)
	require.Equal(t, http.StatusOK, c.do(t, http.MethodGet, "/api/user", nil).StatusCode)

	srv.advance(auth.DefaultTokenTTL)
	requireDetail(t, c.do(t, http.MethodGet, "/api/user", nil), http.StatusUnauthorized, "Signature has expired")
}

func TestLogout(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.signIn(t)

	resp := c.do(t, http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Logout successful", decodeBody[api.MessageResponse](t, resp).Message)
	assert.Empty(t, c.cookie(t, auth.SessionCookieName))
	assert.Contains(t, srv.logs.String(), `"event":"logout"`)

	requireDetail(t, c.do(t, http.MethodGet, "/api/user", nil), http.StatusUnauthorized, "Token is missing")
	requireDetail(t, c.do(t, http.MethodPost, "/api/logout", nil), http.StatusUnauthorized, "Token is missing")
}

func TestLogoutChecksCSRFFirst(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.signIn(t)
	c.csrf = ""

	requireDetail(t, c.do(t, http.MethodPost, "/api/logout", nil),
		http.StatusUnauthorized, `Bad headers. Expected "X-CSRF-Token" in headers`)
	assert.NotEmpty(t, c.cookie(t, auth.SessionCookieName), "session survives a rejected logout")
}

func TestTodoCRUD(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.signIn(t)

	title, desc := "buy milk", "2 litres"
	resp := c.do(t, http.MethodPost, "/api/todo", api.TodoBody{Title: &title, Description: &desc})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[todo.Todo](t, resp)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, title, created.Title)
	assert.Equal(t, desc, created.Description)

	resp = c.do(t, http.MethodGet, "/api/todos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []todo.Todo{created}, decodeBody[[]todo.Todo](t, resp))

	resp = c.do(t, http.MethodGet, "/api/todos/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created, decodeBody[todo.Todo](t, resp))

	renamed := "buy oat milk"
	resp = c.do(t, http.MethodPut, "/api/todos/"+created.ID, api.TodoBody{Title: &renamed})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[todo.Todo](t, resp)
	assert.Equal(t, renamed, updated.Title)
	assert.Equal(t, desc, updated.Description)

	resp = c.do(t, http.MethodDelete, "/api/todos/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Todo deleted successfully", decodeBody[api.MessageResponse](t, resp).Message)

	requireDetail(t, c.do(t, http.MethodGet, "/api/todos/"+created.ID, nil),
		http.StatusNotFound, "Todo(id:"+created.ID+") not found")
	requireDetail(t, c.do(t, http.MethodPut, "/api/todos/"+created.ID, api.TodoBody{Title: &renamed}),
		http.StatusNotFound, "Update failed for Todo(id:"+created.ID+")")
	requireDetail(t, c.do(t, http.MethodDelete, "/api/todos/"+created.ID, nil),
		http.StatusNotFound, "Delete failed for Todo(id:"+created.ID+")")

	logs := srv.logs.String()
	assert.Contains(t, logs, `"event":"todo_created"`)
	assert.Contains(t, logs, `"event":"todo_deleted"`)
}

func TestTodoRoutesReissueSession(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.signIn(t)

	before := c.cookie(t, auth.SessionCookieName)
	resp := c.do(t, http.MethodGet, "/api/todos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, before, c.cookie(t, auth.SessionCookieName))

	// A 404 still carries the reissued session.
	before = c.cookie(t, auth.SessionCookieName)
	resp = c.do(t, http.MethodGet, "/api/todos/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEqual(t, before, c.cookie(t, auth.SessionCookieName))
}

func TestTodoCreateValidation(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.signIn(t)

	desc := "no title"
	resp := c.do(t, http.MethodPost, "/api/todo", api.TodoBody{Description: &desc})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(t, http.MethodGet, "/api/todos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]todo.Todo](t, resp))
}

func TestTodoRoutesRequireSession(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.fetchCSRF(t)

	title := "x"
	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/todo", api.TodoBody{Title: &title}},
		{http.MethodGet, "/api/todos", nil},
		{http.MethodGet, "/api/todos/abc", nil},
		{http.MethodPut, "/api/todos/abc", api.TodoBody{Title: &title}},
		{http.MethodDelete, "/api/todos/abc", nil},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			body := requireDetail(t, c.do(t, tc.method, tc.path, tc.body), http.StatusUnauthorized, "Token is missing")
			assert.Equal(t, srv.URL+tc.path, body.URL)
		})
	}
}

func TestMutatingTodoRoutesRequireCSRF(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)
	c.signIn(t)
	c.csrf = ""

	title := "x"
	resp := c.do(t, http.MethodPost, "/api/todo", api.TodoBody{Title: &title})
	requireDetail(t, resp, http.StatusUnauthorized, `Bad headers. Expected "X-CSRF-Token" in headers`)
	for _, ck := range resp.Cookies() {
		assert.NotEqual(t, auth.SessionCookieName, ck.Name, "rejected request must not reissue the session")
	}

	requireDetail(t, c.do(t, http.MethodDelete, "/api/todos/abc", nil),
		http.StatusUnauthorized, `Bad headers. Expected "X-CSRF-Token" in headers`)
}

func TestDocsServed(t *testing.T) {
	srv := setupServer(t)
	c := srv.newClient(t)

	for _, path := range []string{"/api/openapi.yaml", "/api/docs", "/api/redoc"} {
		resp := c.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
