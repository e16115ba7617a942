package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "image/jpeg")
		rw.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	media, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL+"/a.jpg")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if media.MimeType != "image/jpeg" || media.Filename != "Media" {
		t.Errorf("unexpected media %+v", media)
	}
	raw, _ := media.Bytes()
	if string(raw) != "jpeg-bytes" {
		t.Errorf("unexpected payload %q", raw)
	}
}

func TestFetch_Non2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.NotFound(rw, r)
	}))
	defer srv.Close()

	_, err := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL+"/missing")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", fe.StatusCode)
	}
}

func TestFetch_UnreachableIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewFetcher(time.Second).Fetch(context.Background(), addr)
	if !IsFetchError(err) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := NewFetcher(time.Second).Fetch(context.Background(), "://nope")
	if !IsFetchError(err) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}
