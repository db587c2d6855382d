package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	Method string
	Path   string
	Query  string
	Auth   string
	CType  string
	Host   string
	Body   string
}

type statusLog struct {
	mu    sync.Mutex
	codes []int
}

func (l *statusLog) ObserveProxy(_ string, status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.codes = append(l.codes, status)
}

func newUpstream(t *testing.T, status int, body string) (*httptest.Server, *seen) {
	t.Helper()
	got := &seen{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*got = seen{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			CType:  r.Header.Get("Content-Type"),
			Host:   r.Host,
			Body:   string(b),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

// recorder httputil.ReverseProxy 需要 http.CloseNotifier，httptest.ResponseRecorder 没有实现
type recorder struct {
	*httptest.ResponseRecorder
}

func (recorder) CloseNotify() <-chan bool { return make(chan bool) }

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := recorder{httptest.NewRecorder()}
	h.ServeHTTP(w, req)
	return w.ResponseRecorder
}

func newEngine(t *testing.T, p *Proxy) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Any(DefaultPrefix+"/*path", p.Handler())
	return r
}

func TestUpstreamPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/predictions", "/v1/predictions"},
		{"/predictions/abc", "/v1/predictions/abc"},
		{"/v1/predictions", "/v1/predictions"},
		{"v1/models/x/y", "/v1/models/x/y"},
		{"/v1", "/v1"},
		{"/v10/x", "/v1/v10/x"},
		{"", "/v1/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, UpstreamPath(tt.in))
		})
	}
}

func TestProxy_ForwardsRequest(t *testing.T) {
	upstream, got := newUpstream(t, http.StatusCreated, `{"id":"p1","status":"starting"}`)
	obs := &statusLog{}
	p, err := New(upstream.URL, WithObserver(obs))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/replicate/v1/predictions?wait=1", strings.NewReader(`{"version":"v"}`))
	req.Header.Set("Authorization", "Token r8_user")
	w := serve(newEngine(t, p), req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"p1","status":"starting"}`, w.Body.String())
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v1/predictions", got.Path)
	assert.Equal(t, "wait=1", got.Query)
	assert.Equal(t, "Token r8_user", got.Auth)
	assert.Equal(t, "application/json", got.CType)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), got.Host)
	assert.Equal(t, `{"version":"v"}`, got.Body)
	assert.Equal(t, []int{http.StatusCreated}, obs.codes)
}

func TestProxy_PassesUpstreamStatus(t *testing.T) {
	upstream, got := newUpstream(t, http.StatusUnprocessableEntity, `{"detail":"invalid version"}`)
	p, err := New(upstream.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/replicate/v1/predictions", strings.NewReader(`{"version":"bad","input":{"image":"data:image/png;base64,AA=="}}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(newEngine(t, p), req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"detail":"invalid version"}`, w.Body.String())
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v1/predictions", got.Path)
	assert.JSONEq(t, `{"version":"bad","input":{"image":"data:image/png;base64,AA=="}}`, got.Body)
}

func TestProxy_InjectsToken(t *testing.T) {
	upstream, got := newUpstream(t, http.StatusOK, `{}`)
	p, err := New(upstream.URL, WithTokenSource(func(*http.Request) string { return "r8_server" }))
	require.NoError(t, err)
	r := newEngine(t, p)

	serve(r, httptest.NewRequest(http.MethodGet, "/replicate/models", nil))
	assert.Equal(t, "Token r8_server", got.Auth)

	req := httptest.NewRequest(http.MethodGet, "/replicate/models", nil)
	req.Header.Set("Authorization", "Token mine")
	serve(r, req)
	assert.Equal(t, "Token mine", got.Auth)
}

func TestProxy_TransportFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	obs := &statusLog{}
	p, err := New(url, WithObserver(obs))
	require.NoError(t, err)

	w := serve(newEngine(t, p), httptest.NewRequest(http.MethodGet, "/replicate/predictions", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"Proxy request failed"`)
	assert.Contains(t, w.Body.String(), `"details":`)
	assert.Equal(t, []int{http.StatusInternalServerError}, obs.codes)
}

func TestNew_InvalidTarget(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
	_, err = New("/relative")
	assert.Error(t, err)
}
