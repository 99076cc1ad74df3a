package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"personas-registry/internal/auth"
	"personas-registry/internal/domain"
	"personas-registry/internal/repository/sqlstore"
	"personas-registry/internal/security/digest"
	"personas-registry/internal/security/password"
	"personas-registry/internal/security/ruttoken"
	"personas-registry/internal/service"
)

const testTTL = time.Hour

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	handler *Handler
	hook    *test.Hook
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := sqlstore.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ts := &testServer{t: t, now: time.Now()}

	issuer, err := auth.NewIssuer([]byte("api-test-secret"), testTTL, auth.WithClock(func() time.Time { return ts.now }))
	require.NoError(t, err)
	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	tokenizer, err := ruttoken.New("api-test-rut-key")
	require.NoError(t, err)
	digester := digest.NewArgon2id(digest.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

	users := service.NewUserService(db, hasher, issuer)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	ts.hook = hook
	ts.handler = NewHandler(Options{
		Users:         users,
		Personas:      service.NewPersonaService(db, tokenizer, digester),
		Authenticator: auth.NewAuthenticator(issuer, users),
		TokenTTL:      testTTL,
		CookieSecure:  true,
		Logger:        logger,
		Metrics:       NewMetrics(),
	})
	ts.router = gin.New()
	ts.handler.RegisterRoutes(ts.router)
	return ts
}

func (ts *testServer) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) sendJSON(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req, cookie)
}

func (ts *testServer) login(username, pass string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {pass}}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return ts.do(req, nil)
}

// session registers an account, logs in and returns the session cookie.
func (ts *testServer) session() *http.Cookie {
	rec := ts.sendJSON(http.MethodPost, "/users/", `{"email":"a@x.io","password":"pw123"}`, nil)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.login("a@x.io", "pw123")
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(ts.t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.CookieName)
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[map[string]any](t, rec)["detail"].(string)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	id := rec.Header().Get("X-Request-ID")
	assert.Len(t, id, 26)
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)
	const id = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", id)
	rec := ts.do(req, nil)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "not a ulid")
	rec = ts.do(req, nil)
	assert.NotEqual(t, "not a ulid", rec.Header().Get("X-Request-ID"))
}

func TestRegisterUser(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.sendJSON(http.MethodPost, "/users/", `{"email":"a@x.io","password":"pw123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "a@x.io", body["email"])
	assert.NotZero(t, body["id"])
	assert.NotContains(t, rec.Body.String(), "pw123")
	assert.NotContains(t, rec.Body.String(), "password")

	rec = ts.sendJSON(http.MethodPost, "/users/", `{"email":"a@x.io","password":"other"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email already registered", detail(t, rec))

	rec = ts.sendJSON(http.MethodPost, "/users/", `{"email":"b@x.io"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.sendJSON(http.MethodPost, "/users/", `{"email":"a@x.io","password":"pw123"}`, nil).Code)

	rec := ts.login("a@x.io", "pw123")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[TokenResponse](t, rec)
	assert.Equal(t, "bearer", body.TokenType)
	assert.NotEmpty(t, body.AccessToken)

	cookie := sessionCookie(t, rec)
	value, err := url.QueryUnescape(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+body.AccessToken, value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookie.SameSite)
	assert.Equal(t, int(testTTL.Seconds()), cookie.MaxAge)

	for _, tc := range []struct{ user, pass string }{
		{"a@x.io", "wrong"},
		{"nobody@x.io", "pw123"},
	} {
		rec := ts.login(tc.user, tc.pass)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Incorrect username or password", detail(t, rec))
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
		assert.Empty(t, rec.Result().Cookies())
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/logout", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out", detail(t, rec))

	cookie := sessionCookie(t, rec)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestCurrentUser(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.session()

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/users/me", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[UserResponse](t, rec)
	assert.Equal(t, "a@x.io", me.Email)
	assert.Positive(t, me.ID)
}

func TestPersonaLifecycle(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.session()

	rec := ts.sendJSON(http.MethodPost, "/personas/", `{"rut":"12345678-9","nombre":"Ana","apellido":"Soto","id_religion":3}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[PersonaResponse](t, rec)
	assert.Len(t, created.PublicID, 36)
	assert.Len(t, created.RUTToken, ruttoken.TokenLength)
	assert.Equal(t, "Ana", created.Nombre)
	assert.Equal(t, "Soto", created.Apellido)
	assert.NotContains(t, rec.Body.String(), "12345678")
	assert.NotContains(t, rec.Body.String(), "id_religion")

	rec = ts.sendJSON(http.MethodPost, "/personas/", `{"rut":"12345678-9","nombre":"Otra","apellido":"X","id_religion":1}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "RUT already registered", detail(t, rec))

	rec = ts.sendJSON(http.MethodPost, "/personas/", `{"rut":"2-7","nombre":"Beto","apellido":"Rojas","id_religion":0}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/personas/", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]PersonaResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "Ana", list[0].Nombre)
	assert.Equal(t, "Beto", list[1].Nombre)

	path := "/personas/" + created.PublicID
	rec = ts.do(httptest.NewRequest(http.MethodGet, path, nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[PersonaResponse](t, rec))

	rec = ts.sendJSON(http.MethodPut, path, `{"nombre":"Ana María","apellido":"Soto","id_religion":5}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[PersonaResponse](t, rec)
	assert.Equal(t, "Ana María", updated.Nombre)
	assert.Equal(t, created.RUTToken, updated.RUTToken)

	rec = ts.sendJSON(http.MethodPost, path+"/religion/verify", `{"id_religion":5}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"match":true}`, rec.Body.String())
	rec = ts.sendJSON(http.MethodPost, path+"/religion/verify", `{"id_religion":3}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"match":false}`, rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodDelete, path, nil), cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodDelete, path, nil), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Persona not found", detail(t, rec))

	rec = ts.do(httptest.NewRequest(http.MethodGet, path, nil), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersonaValidation(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.session()

	bodies := []string{
		`{"rut":"1-9","nombre":"Ana","apellido":"Soto"}`,
		`{"rut":"1-9","nombre":"Ana","apellido":"Soto","id_religion":"abc"}`,
		`{"nombre":"Ana","apellido":"Soto","id_religion":1}`,
		`{"rut":"1-9","nombre":"  ","apellido":"Soto","id_religion":1}`,
		`not json`,
	}
	for _, body := range bodies {
		rec := ts.sendJSON(http.MethodPost, "/personas/", body, cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/personas/", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.sendJSON(http.MethodPut, "/personas/missing", `{"nombre":"A","apellido":"B","id_religion":1}`, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionRejections(t *testing.T) {
	ts := newTestServer(t)
	valid := ts.session()
	token, err := url.QueryUnescape(valid.Value)
	require.NoError(t, err)
	raw := strings.TrimPrefix(token, "Bearer ")

	tests := []struct {
		name   string
		cookie *http.Cookie
		reason string
	}{
		{"no cookie", nil, "no_token"},
		{"bare token", &http.Cookie{Name: auth.CookieName, Value: raw}, "bad_scheme"},
		{"wrong scheme", &http.Cookie{Name: auth.CookieName, Value: url.QueryEscape("Basic " + raw)}, "bad_scheme"},
		{"garbage", &http.Cookie{Name: auth.CookieName, Value: url.QueryEscape("Bearer garbage")}, "malformed"},
		{"tampered", &http.Cookie{Name: auth.CookieName, Value: url.QueryEscape("Bearer " + raw + "x")}, "signature"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts.hook.Reset()
			rec := ts.do(httptest.NewRequest(http.MethodGet, "/personas/", nil), tc.cookie)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Could not validate credentials", detail(t, rec))
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			assert.Equal(t, tc.reason, rejectionReason(ts.hook))
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(ts.handler.metrics.authRejections.WithLabelValues("bad_scheme")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.handler.metrics.authRejections.WithLabelValues("no_token")))

	lower := &http.Cookie{Name: auth.CookieName, Value: url.QueryEscape("bearer " + raw)}
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/personas/", nil), lower)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExpiredSession(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.session()

	ts.now = ts.now.Add(testTTL + time.Minute)
	ts.hook.Reset()

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/personas/", nil), cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "expired", rejectionReason(ts.hook))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.handler.metrics.authRejections.WithLabelValues("expired")))
}

func TestUnknownSubject(t *testing.T) {
	ts := newTestServer(t)

	issuer, err := auth.NewIssuer([]byte("api-test-secret"), testTTL, auth.WithClock(func() time.Time { return ts.now }))
	require.NoError(t, err)
	token, _, err := issuer.Issue("ghost@x.io")
	require.NoError(t, err)

	cookie := &http.Cookie{Name: auth.CookieName, Value: url.QueryEscape(auth.FormatBearer(token))}
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/users/me", nil), cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unknown_subject", rejectionReason(ts.hook))
}

func TestMetricsNotOnPublicRouter(t *testing.T) {
	ts := newTestServer(t)

	issuer, err := auth.NewIssuer([]byte("api-test-secret"), testTTL, auth.WithClock(func() time.Time { return ts.now }))
	require.NoError(t, err)
	token, _, err := issuer.Issue("ghost@x.io")
	require.NoError(t, err)
	cookie := &http.Cookie{Name: auth.CookieName, Value: url.QueryEscape(auth.FormatBearer(token))}
	require.Equal(t, http.StatusUnauthorized, ts.do(httptest.NewRequest(http.MethodGet, "/personas/", nil), cookie).Code)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "personas_auth_rejections_total")
	assert.NotContains(t, rec.Body.String(), "unknown_subject")
}

func TestMetricsHandler(t *testing.T) {
	ts := newTestServer(t)
	ts.do(httptest.NewRequest(http.MethodGet, "/personas/", nil), nil)

	rec := httptest.NewRecorder()
	ts.handler.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `personas_auth_rejections_total{reason="no_token"} 1`)
	assert.Contains(t, rec.Body.String(), "personas_http_requests_total")
}

type failingAuthenticator struct{}

func (failingAuthenticator) Authenticate(context.Context, string) (*domain.User, error) {
	return nil, errors.New("database is gone")
}

func TestSessionInfrastructureFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := NewHandler(Options{Authenticator: failingAuthenticator{}, Logger: logger})
	router := gin.New()
	h.RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"Internal server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "database is gone")

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data[logrus.ErrorKey] != nil {
			logged = true
		}
	}
	assert.True(t, logged)
}

func rejectionReason(hook *test.Hook) string {
	for _, e := range hook.AllEntries() {
		if reason, ok := e.Data["reason"].(string); ok {
			return reason
		}
	}
	return ""
}
