package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veganrecipes/client/internal/csrf"
	"veganrecipes/client/internal/session"
	"veganrecipes/client/internal/state"
)

const testToken = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

// recorder запоминает входящие запросы и отдаёт управление в handler.
type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req.Clone(context.Background()))
}

func (r *recorder) count(method, path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.Method == method && req.URL.Path == path {
			n++
		}
	}
	return n
}

func (r *recorder) last(method, path string) *http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.requests) - 1; i >= 0; i-- {
		if r.requests[i].Method == method && r.requests[i].URL.Path == path {
			return r.requests[i]
		}
	}
	return nil
}

func newTestSessions(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.New(filepath.Join(t.TempDir(), "session.json"), nil)
	require.NoError(t, err)
	return store
}

func csrfHandler(rec *recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		http.SetCookie(w, &http.Cookie{Name: csrf.CookieName, Value: testToken, Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CSRFResponse{CSRFToken: testToken})
	}
}

func TestDoFetchesCSRFForMutatingMethods(t *testing.T) {
	rec := &recorder{}
	mux := http.NewServeMux()
	mux.HandleFunc(PathCSRF, csrfHandler(rec))
	mux.HandleFunc(PathLogout, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := New(server.URL, newTestSessions(t), Options{})
	require.NoError(t, err)

	raw, err := client.Do(context.Background(), "Logout", Request{Method: http.MethodPost, Path: PathLogout})
	require.NoError(t, err)
	assert.Nil(t, raw)

	// Мутирующий метод всегда идёт за токеном перед отправкой.
	assert.Equal(t, 1, rec.count(http.MethodGet, PathCSRF))
	sent := rec.last(http.MethodPost, PathLogout)
	require.NotNil(t, sent)
	assert.Equal(t, testToken, sent.Header.Get(csrf.HeaderName))
}

func TestDoGetNeverFetchesCSRF(t *testing.T) {
	rec := &recorder{}
	mux := http.NewServeMux()
	mux.HandleFunc(PathCSRF, csrfHandler(rec))
	mux.HandleFunc(PathMe, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(UserDTO{ID: "1", Username: "alice"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := New(server.URL, newTestSessions(t), Options{})
	require.NoError(t, err)

	raw, err := client.Do(context.Background(), "GetCurrentUser", Request{Method: http.MethodGet, Path: PathMe})
	require.NoError(t, err)
	require.NotNil(t, raw)

	// GET не порождает сетевой поход за токеном.
	assert.Equal(t, 0, rec.count(http.MethodGet, PathCSRF))
	assert.Equal(t, 1, rec.count(http.MethodGet, PathMe))
}

func TestDoAttachesBearerToken(t *testing.T) {
	rec := &recorder{}
	mux := http.NewServeMux()
	mux.HandleFunc(PathMe, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(UserDTO{ID: "1", Username: "alice"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sessions := newTestSessions(t)
	require.NoError(t, sessions.SetTokens(state.TokenPair{Access: "access-1", Refresh: "refresh-1"}))
	client, err := New(server.URL, sessions, Options{})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), "GetCurrentUser", Request{Method: http.MethodGet, Path: PathMe})
	require.NoError(t, err)

	sent := rec.last(http.MethodGet, PathMe)
	require.NotNil(t, sent)
	assert.Equal(t, "Bearer access-1", sent.Header.Get("Authorization"))
	assert.NotEmpty(t, sent.Header.Get("X-Request-Id"))
}

func TestDoRefreshesOnceOnUnauthorized(t *testing.T) {
	rec := &recorder{}
	mux := http.NewServeMux()
	mux.HandleFunc(PathCSRF, csrfHandler(rec))
	mux.HandleFunc(PathMe, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(UserDTO{ID: "1", Username: "alice"})
	})
	mux.HandleFunc(PathTokenRefresh, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RefreshResponse{Access: "fresh-access"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sessions := newTestSessions(t)
	require.NoError(t, sessions.SetTokens(state.TokenPair{Access: "expired-access", Refresh: "refresh-1"}))
	client, err := New(server.URL, sessions, Options{})
	require.NoError(t, err)

	raw, err := client.Do(context.Background(), "GetCurrentUser", Request{Method: http.MethodGet, Path: PathMe})
	require.NoError(t, err)
	require.NotNil(t, raw)

	// Ровно одно обновление и ровно один повтор исходного запроса.
	assert.Equal(t, 1, rec.count(http.MethodPost, PathTokenRefresh))
	assert.Equal(t, 2, rec.count(http.MethodGet, PathMe))
	assert.Equal(t, "fresh-access", sessions.Access())
	// Refresh-токен сохраняется, если backend его не ротировал.
	assert.Equal(t, "refresh-1", sessions.Refresh())
}

func TestDoSecondUnauthorizedClearsSession(t *testing.T) {
	rec := &recorder{}
	mux := http.NewServeMux()
	mux.HandleFunc(PathCSRF, csrfHandler(rec))
	mux.HandleFunc(PathMe, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc(PathTokenRefresh, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RefreshResponse{Access: "fresh-access"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sessions := newTestSessions(t)
	require.NoError(t, sessions.SetTokens(state.TokenPair{Access: "expired-access", Refresh: "refresh-1"}))
	client, err := New(server.URL, sessions, Options{})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), "GetCurrentUser", Request{Method: http.MethodGet, Path: PathMe})
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, state.ErrorKindUnauthorized, apiErr.Kind)

	// Повторный 401 терминален: второй попытки обновления нет, сессия пуста.
	assert.Equal(t, 1, rec.count(http.MethodPost, PathTokenRefresh))
	assert.Equal(t, 2, rec.count(http.MethodGet, PathMe))
	assert.Empty(t, sessions.Access())
	assert.Empty(t, sessions.Refresh())
}

func TestDoUnauthorizedWithoutRefreshToken(t *testing.T) {
	rec := &recorder{}
	mux := http.NewServeMux()
	mux.HandleFunc(PathMe, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := New(server.URL, newTestSessions(t), Options{})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), "GetCurrentUser", Request{Method: http.MethodGet, Path: PathMe})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, state.ErrorKindUnauthorized, apiErr.Kind)
	assert.Equal(t, 1, rec.count(http.MethodGet, PathMe))
}

func TestDoValidationErrorKeepsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathCSRF, csrfHandler(&recorder{}))
	mux.HandleFunc(PathRegister, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"username": ["already taken"]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := New(server.URL, newTestSessions(t), Options{})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), "Register", Request{
		Method: http.MethodPost,
		Path:   PathRegister,
		Body:   RegisterRequest{Username: "alice", Email: "a@example.com", Password: "pw"},
	})
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, state.ErrorKindValidationFailed, apiErr.Kind)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.JSONEq(t, `{"username": ["already taken"]}`, string(apiErr.Body))
}

func TestDoMultipartKeepsFormContentType(t *testing.T) {
	rec := &recorder{}
	var gotContentType string
	var gotBio string
	mux := http.NewServeMux()
	mux.HandleFunc(PathCSRF, csrfHandler(rec))
	mux.HandleFunc(PathUserProfile, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			gotBio = r.FormValue("bio")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := New(server.URL, newTestSessions(t), Options{})
	require.NoError(t, err)

	payload, err := BuildMultipart(map[string]string{"bio": "plant chef"}, "profileImage", "avatar.png", []byte{0x89, 0x50})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), "UpdateProfile", Request{
		Method:    http.MethodPut,
		Path:      PathUserProfile,
		Multipart: payload,
	})
	require.NoError(t, err)

	// Заголовок с boundary от multipart-кодировщика не подменяется.
	assert.True(t, strings.HasPrefix(gotContentType, "multipart/form-data; boundary="), "got %q", gotContentType)
	assert.Equal(t, "plant chef", gotBio)
}

func TestFetchCSRFTokenCookieFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathCSRF, func(w http.ResponseWriter, r *http.Request) {
		// Токен только в cookie, тело пустое.
		http.SetCookie(w, &http.Cookie{Name: csrf.CookieName, Value: "short", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := New(server.URL, newTestSessions(t), Options{})
	require.NoError(t, err)

	token := client.FetchCSRFToken(context.Background())
	assert.Equal(t, "short"+strings.Repeat("X", 59), token)
}

func TestFetchCSRFTokenNeverFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client, err := New(server.URL, newTestSessions(t), Options{})
	require.NoError(t, err)

	// Неожиданный статус — пустой токен.
	assert.Empty(t, client.FetchCSRFToken(context.Background()))

	// Недоступный backend — тоже пустой токен, без паник и ошибок.
	server.Close()
	assert.Empty(t, client.FetchCSRFToken(context.Background()))
}
