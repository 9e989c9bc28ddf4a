//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
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

	"github.com/mwakai/touch-grass/internal/authapi"
	"github.com/mwakai/touch-grass/internal/domain"
	"github.com/mwakai/touch-grass/internal/guard"
	"github.com/mwakai/touch-grass/internal/identity"
	"github.com/mwakai/touch-grass/internal/session"
	"github.com/mwakai/touch-grass/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeIdentity is an in-process Identity Service.
type fakeIdentity struct {
	mu      sync.Mutex
	revoked map[string]bool
	srv     *httptest.Server
}

func newFakeIdentity(t *testing.T) *fakeIdentity {
	t.Helper()
	f := &fakeIdentity{revoked: make(map[string]bool)}

	write := func(w http.ResponseWriter, status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
	users := map[string]string{
		"tok-parent": `{"id":1,"email":"pat@example.com","role":"parent","name":"Pat"}`,
		"tok-new":    `{"id":"n1","email":"kid@example.com","role":"kid","name":"Ava"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "secret" {
			write(w, http.StatusUnauthorized, `{"message":"Invalid credentials"}`)
			return
		}
		write(w, http.StatusOK, `{"token":"tok-parent","user":`+users["tok-parent"]+`}`)
	})
	mux.HandleFunc("POST /auth/signup", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusCreated, `{"data":{"token":"tok-new","user":`+users["tok-new"]+`}}`)
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		token := f.token(r)
		if token == "" {
			write(w, http.StatusUnauthorized, `{"message":"Token expired"}`)
			return
		}
		write(w, http.StatusOK, `{"data":`+users[token]+`}`)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /kids", func(w http.ResponseWriter, r *http.Request) {
		if f.token(r) == "" {
			write(w, http.StatusUnauthorized, `{"message":"Token expired"}`)
			return
		}
		write(w, http.StatusOK, `{"kids":[{"_id":"k1","name":"Ava","age":7,"avatorColor":"green"}]}`)
	})
	mux.HandleFunc("POST /kids", func(w http.ResponseWriter, r *http.Request) {
		var in domain.KidInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		out, _ := json.Marshal(map[string]any{"kid": map[string]any{"id": "k2", "name": in.Name, "age": in.Age}})
		write(w, http.StatusCreated, string(out))
	})
	mux.HandleFunc("DELETE /kids/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "k1" {
			write(w, http.StatusNotFound, `{"message":"Kid not found"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// token returns the request's bearer token if it is known and not revoked.
func (f *fakeIdentity) token(r *http.Request) string {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[token] || (token != "tok-parent" && token != "tok-new") {
		return ""
	}
	return token
}

func (f *fakeIdentity) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[token] = true
}

type testEnv struct {
	t      *testing.T
	idp    *fakeIdentity
	repo   *store.MemoryStore
	srv    *httptest.Server
	client *http.Client
}

func newTestEnv(t *testing.T, authRateLimit int) *testEnv {
	t.Helper()

	idp := newFakeIdentity(t)
	idpClient := authapi.New(authapi.Config{BaseURL: idp.srv.URL, Timeout: 5 * time.Second}, nil, discard)
	repo := store.NewMemory()
	registry := session.NewRegistry(func(deviceID string) *session.Store {
		return session.New(deviceID, session.Deps{
			Identity:    idpClient,
			Persistence: store.Scoped(repo, deviceID),
			Logger:      discard,
		})
	}, discard)

	base := NewHandler(registry, guard.New(guard.MustTable(guard.DefaultRoutes())), nil)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewAuthHandler(base, authRateLimit).RegisterRoutes(r)
	NewNavigateHandler(base).RegisterRoutes(r)
	NewKidsHandler(base, idpClient).RegisterRoutes(r)
	NewHealthHandler(repo, time.Second).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{t: t, idp: idp, repo: repo, srv: srv, client: &http.Client{Jar: jar}}
}

func (e *testEnv) do(method, path string, body any) (int, map[string]any) {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)

	var out map[string]any
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *testEnv) deviceID() string {
	e.t.Helper()
	u, err := url.Parse(e.srv.URL)
	require.NoError(e.t, err)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == identity.DeviceCookieName {
			return c.Value
		}
	}
	e.t.Fatal("device cookie not set")
	return ""
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["authenticated"])
	assert.Nil(t, body["user"])

	status, body = env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "pat@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", body["error"])

	status, body = env.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "pat@example.com", "password": "secret", "redirect": "/add-kid",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, true, body["isParent"])
	assert.Equal(t, "/add-kid", body["redirect"])
	assert.NotContains(t, body, "token")
	user := body["user"].(map[string]any)
	assert.Equal(t, "1", user["id"])

	token, found, err := env.repo.GetCredential(context.Background(), env.deviceID(), domain.CredentialToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok-parent", token)

	status, body = env.do(http.MethodPost, "/api/navigate", map[string]string{"path": "/login"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "redirect", body["action"])
	assert.Equal(t, "/dashboard", body["path"])

	status, body = env.do(http.MethodPost, "/api/auth/refresh", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["authenticated"])

	status, body = env.do(http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["authenticated"])
	assert.Equal(t, "/login", body["redirect"])

	_, found, err = env.repo.GetCredential(context.Background(), env.deviceID(), domain.CredentialToken)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoginRedirectFollowsGuard(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "pat@example.com", "password": "secret", "redirect": "/kids/k1",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/dashboard", body["redirect"])
}

func TestSignupKid(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(http.MethodPost, "/api/auth/signup", map[string]any{
		"email": "kid@example.com", "password": "pw", "role": "kid", "name": "Ava", "age": 8,
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["isKid"])
	assert.Equal(t, "/kids/n1", body["redirect"])

	status, body = env.do(http.MethodPost, "/api/auth/signup", map[string]any{
		"email": "kid@example.com", "password": "pw", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "role must be one of: parent kid", body["error"])
}

func TestKidsProxy(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(http.MethodGet, "/api/kids", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "not authenticated", body["error"])

	status, _ = env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "pat@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(http.MethodGet, "/api/kids", nil)
	require.Equal(t, http.StatusOK, status)
	kids := body["kids"].([]any)
	require.Len(t, kids, 1)
	kid := kids[0].(map[string]any)
	assert.Equal(t, "k1", kid["id"])
	assert.Equal(t, "green", kid["avatarColor"])
	assert.Equal(t, float64(0), kid["points"])

	status, body = env.do(http.MethodPost, "/api/kids", map[string]any{"name": "Bo", "age": 6})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "k2", body["id"])
	assert.Equal(t, "Bo", body["name"])

	status, body = env.do(http.MethodPost, "/api/kids", map[string]any{"name": "Bo", "age": 40})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "age must be at most 17", body["error"])

	status, _ = env.do(http.MethodDelete, "/api/kids/k1", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = env.do(http.MethodDelete, "/api/kids/k9", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Kid not found", body["error"])
}

func TestKidsProxyRevokedTokenLogsOut(t *testing.T) {
	env := newTestEnv(t, 100)

	status, _ := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "pat@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, status)

	env.idp.revoke("tok-parent")

	status, body := env.do(http.MethodGet, "/api/kids", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "session expired", body["error"])

	_, body = env.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, false, body["authenticated"])

	_, found, err := env.repo.GetCredential(context.Background(), env.deviceID(), domain.CredentialToken)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdentityServiceUnreachable(t *testing.T) {
	env := newTestEnv(t, 100)
	env.idp.srv.Close()

	status, body := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "pat@example.com", "password": "secret"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["error"], "request failed")

	_, body = env.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, false, body["authenticated"])
	assert.Equal(t, false, body["loading"])
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)
	creds := map[string]string{"email": "pat@example.com", "password": "wrong"}

	for i := 0; i < 2; i++ {
		status, _ := env.do(http.MethodPost, "/api/auth/login", creds)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := env.do(http.MethodPost, "/api/auth/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "too many attempts, try again later", body["error"])

	status, _ = env.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestReadiness(t *testing.T) {
	env := newTestEnv(t, 100)

	status, body := env.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	h := NewHealthHandler(failingPinger{}, time.Second)
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"store":"unreachable"`)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return io.ErrUnexpectedEOF }

func TestMissingDeviceIdentity(t *testing.T) {
	base := NewHandler(nil, guard.New(guard.MustTable(guard.DefaultRoutes())), nil)
	h := NewAuthHandler(base, 10)

	rr := httptest.NewRecorder()
	h.GetSession(rr, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, session.Snapshot{}, base.Snapshot(httptest.NewRequest(http.MethodGet, "/", nil)))
}
