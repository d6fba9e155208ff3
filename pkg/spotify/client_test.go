package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHasCredentialsReflectsSetCredentials(t *testing.T) {
	c := New()
	if c.HasCredentials() {
		t.Fatalf("fresh client should report no credentials")
	}
	c.SetCredentials(Credentials{ClientID: "id", ClientSecret: "secret"})
	if !c.HasCredentials() {
		t.Fatalf("expected credentials to be reported present after SetCredentials")
	}
}

func TestScrapePublicPageExtractsMetaTags(t *testing.T) {
	html := `<html><head>
		<meta property="music:release_date" content="1984-06-25">
		<meta property="music:album:track" content="6">
		<meta property="og:image" content="https://img.example/purple-rain.jpg">
	</head><body></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}))
	defer srv.Close()

	c := New()
	meta, err := c.ScrapePublicPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Year != 1984 {
		t.Errorf("expected year 1984, got %d", meta.Year)
	}
	if meta.TrackNumber != 6 {
		t.Errorf("expected track number 6, got %d", meta.TrackNumber)
	}
	if meta.ImageURL != "https://img.example/purple-rain.jpg" {
		t.Errorf("unexpected image url %q", meta.ImageURL)
	}
}

func TestScrapePublicPageMissingTagsAreZeroValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head></head><body></body></html>`))
	}))
	defer srv.Close()

	c := New()
	meta, err := c.ScrapePublicPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Year != 0 || meta.TrackNumber != 0 || meta.ImageURL != "" {
		t.Fatalf("expected all-zero ScrapedMeta, got %+v", meta)
	}
}

func TestScrapePublicPageHardTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	if _, err := c.ScrapePublicPage(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}
