package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/discoverykit/logger"
	"github.com/kbukum/discoverykit/server/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	e := gin.New()
	e.Use(handlers...)
	return e
}

func serve(e *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	return rr
}

func bufferLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, "test", buf)
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

func TestRecovery_NoPanic(t *testing.T) {
	e := newEngine(middleware.Recovery(logger.Nop()))
	e.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	rr := serve(e, httptest.NewRequest("GET", "/", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRecovery_Panic(t *testing.T) {
	var buf bytes.Buffer
	e := newEngine(middleware.Recovery(bufferLogger(&buf)))
	e.GET("/v1/services", func(*gin.Context) { panic("boom") })

	rr := serve(e, httptest.NewRequest("GET", "/v1/services", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body["error"] != "Internal server error" {
		t.Fatalf("unexpected error message: %s", body["error"])
	}
	if !strings.Contains(buf.String(), "Panic recovered") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}

// ---------------------------------------------------------------------------
// RequestID
// ---------------------------------------------------------------------------

func TestRequestID_GeneratesID(t *testing.T) {
	var seen any
	e := newEngine(middleware.RequestID())
	e.GET("/", func(c *gin.Context) {
		seen, _ = c.Get("request_id")
		c.Status(http.StatusOK)
	})

	rr := serve(e, httptest.NewRequest("GET", "/", http.NoBody))
	id := rr.Header().Get(middleware.RequestIDHeader)
	if id == "" {
		t.Fatal("expected X-Request-Id in response headers")
	}
	if seen != id {
		t.Errorf("expected context request_id %q, got %v", id, seen)
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := newEngine(middleware.RequestID())
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set(middleware.RequestIDHeader, "custom-id-123")
	rr := serve(e, req)

	if got := rr.Header().Get(middleware.RequestIDHeader); got != "custom-id-123" {
		t.Fatalf("expected custom-id-123, got %s", got)
	}
}

// ---------------------------------------------------------------------------
// RequestLogger
// ---------------------------------------------------------------------------

func TestRequestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	e := newEngine(middleware.RequestID(), middleware.RequestLogger(bufferLogger(&buf)))
	e.GET("/v1/services/:name", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	rr := serve(e, httptest.NewRequest("GET", "/v1/services/billing", http.NoBody))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q", buf.String())
	}
	if entry["level"] != "error" {
		t.Errorf("expected error level for 5xx, got %v", entry["level"])
	}
	if entry["path"] != "/v1/services/billing" {
		t.Errorf("expected path to be logged, got %v", entry["path"])
	}
	if entry["request_id"] == nil {
		t.Error("expected request_id to be logged")
	}
}

func TestRequestLogger_SkipsProbes(t *testing.T) {
	var buf bytes.Buffer
	e := newEngine(middleware.RequestLogger(bufferLogger(&buf)))
	called := false
	e.GET("/healthz", func(c *gin.Context) {
		called = true
		c.Status(http.StatusOK)
	})

	serve(e, httptest.NewRequest("GET", "/healthz", http.NoBody))
	if !called {
		t.Error("expected handler to be called")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output for probes, got %q", buf.String())
	}
}

// ---------------------------------------------------------------------------
// RateLimit
// ---------------------------------------------------------------------------

func TestRateLimit_RejectsAboveBurst(t *testing.T) {
	e := newEngine(middleware.RateLimit(middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}))
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = serve(e, httptest.NewRequest("GET", "/", http.NoBody)).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("expected the burst to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the burst, got %d", codes[2])
	}
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	e := newEngine(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             1,
		KeyFunc:           func(c *gin.Context) string { return c.GetHeader("X-Client") },
	}))
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, client := range []string{"a", "b"} {
		req := httptest.NewRequest("GET", "/", http.NoBody)
		req.Header.Set("X-Client", client)
		if rr := serve(e, req); rr.Code != http.StatusOK {
			t.Errorf("expected 200 for client %s, got %d", client, rr.Code)
		}
	}
}
