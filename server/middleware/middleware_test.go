package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/streamsight/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- RequestID ----

func TestRequestIDGenerated(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) {
		if c.GetString(ContextRequestID) == "" {
			t.Error("expected request id in context")
		}
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id response header")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "upstream-id")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "upstream-id" {
		t.Errorf("expected upstream id preserved, got %q", got)
	}
}

// ---- Recovery ----

func TestRecoveryCatchesPanic(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery(logger.NewDefault("test")))
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 after panic, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("expected structured error body, got %s", rec.Body.String())
	}
}

// ---- CORS ----

func TestCORSPreflight(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
	}
	engine := gin.New()
	engine.Use(CORS(cfg))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Errorf("expected origin echoed, got %q", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"http://allowed.example"}}
	engine := gin.New()
	engine.Use(CORS(cfg))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://other.example")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS headers for disallowed origin")
	}
}

// ---- BodySizeLimit ----

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10MB", 10 << 20},
		{"512KB", 512 << 10},
		{"1GB", 1 << 30},
		{"100B", 100},
		{"42", 42},
		{"garbage", defaultMaxBodySize},
		{"", defaultMaxBodySize},
	}
	for _, tc := range tests {
		if got := parseSize(tc.in, defaultMaxBodySize); got != tc.want {
			t.Errorf("parseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestBodySizeLimitRejectsLargeBody(t *testing.T) {
	engine := gin.New()
	engine.Use(BodySizeLimit("10B"))
	engine.POST("/", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	body := strings.NewReader(strings.Repeat("x", 100))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", body))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized body, got %d", rec.Code)
	}
}

// ---- Auth ----

func authEngine(cfg AuthConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(Auth(cfg))
	engine.GET("/secure", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func TestAuthMissingHeader(t *testing.T) {
	engine := authEngine(AuthConfig{
		TokenValidator: func(string) (map[string]interface{}, error) { return nil, nil },
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without header, got %d", rec.Code)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	engine := authEngine(AuthConfig{
		TokenValidator: func(string) (map[string]interface{}, error) {
			return nil, fmt.Errorf("bad signature")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", rec.Code)
	}
}

func TestAuthValidToken(t *testing.T) {
	engine := authEngine(AuthConfig{
		TokenValidator: func(token string) (map[string]interface{}, error) {
			if token != "good" {
				return nil, fmt.Errorf("unknown token")
			}
			return map[string]interface{}{"sub": "ops"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for valid token, got %d", rec.Code)
	}
}

func TestAuthSkipPaths(t *testing.T) {
	engine := authEngine(AuthConfig{
		TokenValidator: func(string) (map[string]interface{}, error) {
			return nil, fmt.Errorf("should not be called")
		},
		SkipPaths: []string{"/health"},
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for skipped path, got %d", rec.Code)
	}
}
