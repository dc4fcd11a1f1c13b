package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/TIANLI0/ClearBG/utils"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger("/health"), CORS([]string{"https://app.example.com"}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.POST("/api", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	prev := utils.Logger
	utils.Logger = zap.New(core)
	t.Cleanup(func() { utils.Logger = prev })
	return logs
}

func TestLogger(t *testing.T) {
	logs := observe(t)
	r := newRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom?x=1", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "/boom", fields["path"])
	assert.Equal(t, "x=1", fields["query"])
	assert.Equal(t, int64(http.StatusInternalServerError), fields["status"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestLogger_SkipsPathsAndGeneratesID(t *testing.T) {
	logs := observe(t)
	r := newRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Zero(t, logs.Len())
}

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/api", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCORS_AllowedOrigin(t *testing.T) {
	observe(t)
	r := newRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, corsRequest(http.MethodOptions, "https://app.example.com"))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, corsRequest(http.MethodPost, "https://app.example.com"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestCORS_OtherOriginsGetNoHeaders(t *testing.T) {
	observe(t)
	r := newRouter()

	tests := []struct {
		name   string
		method string
		origin string
		code   int
	}{
		{name: "foreign preflight", method: http.MethodOptions, origin: "https://evil.example", code: http.StatusNotFound},
		{name: "foreign post", method: http.MethodPost, origin: "https://evil.example", code: http.StatusOK},
		{name: "no origin", method: http.MethodPost, code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, corsRequest(tt.method, tt.origin))
			assert.Equal(t, tt.code, w.Code)
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORS_Wildcard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"*"}))
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, corsRequest(http.MethodGet, "https://anywhere.example"))
	assert.Equal(t, "https://anywhere.example", w.Header().Get("Access-Control-Allow-Origin"))
}
