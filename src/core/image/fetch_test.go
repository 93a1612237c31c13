package image

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"waste-vision-go/src/core/types"
)

func TestFetchURL(t *testing.T) {
	payload := makePNG(t, 16, 16, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	data, err := FetchURL(context.Background(), srv.URL, 1<<20)
	if err != nil {
		t.Fatalf("FetchURL() error = %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("拉取到 %d 字节, want %d", len(data), len(payload))
	}
}

func TestFetchURLRejects(t *testing.T) {
	payload := makePNG(t, 16, 16, color.RGBA{A: 255})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/empty":
			// 空响应体
		default:
			w.Write(payload)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		url     string
		maxSize int64
	}{
		{"非HTTP协议", "ftp://example.com/waste.png", 1 << 20},
		{"非200响应", srv.URL + "/missing", 1 << 20},
		{"超过大小限制", srv.URL, 16},
		{"空响应体", srv.URL + "/empty", 1 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FetchURL(context.Background(), tt.url, tt.maxSize)
			var invalidErr *types.InvalidImageError
			if !errors.As(err, &invalidErr) {
				t.Errorf("FetchURL() error = %v, want InvalidImageError", err)
			}
		})
	}
}

func TestFetchURLContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchURL(ctx, srv.URL, 1<<20)
	var invalidErr *types.InvalidImageError
	if !errors.As(err, &invalidErr) {
		t.Errorf("FetchURL() error = %v, want InvalidImageError", err)
	}
}
