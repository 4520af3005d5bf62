package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_AssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen string
	r := gin.New()
	r.Use(Middleware(Discard()))
	r.GET("/x", func(c *gin.Context) {
		if FromGin(c) == nil {
			t.Errorf("expected request logger")
		}
		seen = RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get("X-Request-Id") == "" || seen != w.Header().Get("X-Request-Id") {
		t.Fatalf("expected generated request id in header and context, got %q / %q", w.Header().Get("X-Request-Id"), seen)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got != "rid-1" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestMiddleware_LogsCallID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(newWithWriter(&buf, "production")))
	r.GET("/calls/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected liveness probe to be quiet, got %s", buf.String())
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/calls/c-9", nil))
	if !strings.Contains(buf.String(), `"call_id":"c-9"`) || !strings.Contains(buf.String(), `"path":"/calls/:id"`) {
		t.Fatalf("unexpected log line: %s", buf.String())
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, "dev")
	l.Info("config", "http_password", "hunter2", "mode", "http")
	out := buf.String()
	if strings.Contains(out, "hunter2") || !strings.Contains(out, `"http_password":"[redacted]"`) {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, `"mode":"http"`) || !strings.Contains(out, `"env":"dev"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
