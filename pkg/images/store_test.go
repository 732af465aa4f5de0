package images

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pixelmint/pixelmint/pkg/storage"
)

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := storage.DefaultConfig()
	cfg.S3Endpoint = server.URL
	cfg.S3Bucket = "pixelmint-images"
	cfg.S3AccessKey = "test"
	cfg.S3SecretKey = "test"
	cfg.S3UsePathStyle = true

	store, err := NewStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestGet(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/pixelmint-images/gen/u-1/img_1.png" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("ETag", `"abc123"`)
		w.Write([]byte("png-bytes"))
	}))

	obj, err := store.Get(context.Background(), "gen/u-1/img_1.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("Unexpected body: %q", data)
	}
	if obj.ContentType != "image/png" {
		t.Errorf("Unexpected content type: %s", obj.ContentType)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
	}))

	_, err := store.Get(context.Background(), "gen/missing.png")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Expected ErrObjectNotFound, got %v", err)
	}
}

func TestPresignGet(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Presigning must not hit the endpoint")
	}))

	url, err := store.PresignGet(context.Background(), "gen/u-1/img_1.png", 5*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet failed: %v", err)
	}
	if !strings.Contains(url, "gen/u-1/img_1.png") {
		t.Errorf("Presigned URL missing key: %s", url)
	}
	if !strings.Contains(url, "X-Amz-Signature=") {
		t.Errorf("Presigned URL missing signature: %s", url)
	}
}

func TestNewStore_RequiresBucket(t *testing.T) {
	if _, err := NewStore(context.Background(), storage.DefaultConfig()); err == nil {
		t.Error("Expected error for missing bucket")
	}
}
