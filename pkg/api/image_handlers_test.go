package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pixelmint/pixelmint/pkg/images"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/storage"
)

func newImageServer(t *testing.T, backend http.Handler, auth Middleware) *Server {
	t.Helper()
	upstream := httptest.NewServer(backend)
	t.Cleanup(upstream.Close)

	cfg := storage.DefaultConfig()
	cfg.S3Endpoint = upstream.URL
	cfg.S3Bucket = "pixelmint-images"
	cfg.S3AccessKey = "test"
	cfg.S3SecretKey = "test"
	cfg.S3UsePathStyle = true

	store, err := images.NewStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create image store: %v", err)
	}

	return NewServer(Config{
		Images:  store,
		Logger:  observability.NewLogger(observability.ErrorLevel, io.Discard),
		Metrics: observability.NewMetrics(prometheus.NewRegistry()),
		Auth:    auth,
	})
}

func TestGetImage_Stream(t *testing.T) {
	server := newImageServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pixelmint-images/gen/u-1/img_1.png" {
			t.Errorf("Unexpected backend path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}), withUser("u-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/gen/u-1/img_1.png", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Unexpected content type: %s", ct)
	}
	if rec.Body.String() != "png-bytes" {
		t.Errorf("Unexpected body: %q", rec.Body.String())
	}
}

func TestGetImage_Presigned(t *testing.T) {
	server := newImageServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Presigning must not hit the backend")
	}), withUser("u-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/gen/u-1/img_1.png?presign=true", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.Contains(resp.URL, "gen/u-1/img_1.png") || !strings.Contains(resp.URL, "X-Amz-Signature=") {
		t.Errorf("Unexpected presigned URL: %s", resp.URL)
	}
}

func TestGetImage_NotFound(t *testing.T) {
	server := newImageServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
	}), withUser("u-1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/gen/missing.png", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestGetImage_Unauthenticated(t *testing.T) {
	server := newImageServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Backend must not be reached without auth")
	}), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/gen/u-1/img_1.png", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
}
