package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"kiosk-fleet/internal/logging"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestNormaliseBasePath(t *testing.T) {
	cases := map[string]string{
		"":         "",
		"/":        "",
		"kiosk":    "/kiosk",
		"/kiosk/":  "/kiosk",
		" /fleet ": "/fleet",
	}
	for in, want := range cases {
		if got := normaliseBasePath(in); got != want {
			t.Fatalf("normaliseBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoutesUnderBasePath(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "api:"+r.URL.Path)
	})
	firmware := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "fw:"+r.URL.Path)
	})
	srv := New(":0", logging.Discard(), Handlers{API: api, Firmware: firmware, FirmwarePath: "/ota-firmware"}, fakePinger{}, "/kiosk")
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/kiosk/api/me", http.StatusOK, "api:/api/me"},
		{"/kiosk/ota-firmware/firmware/1.0.0/a.bin", http.StatusOK, "fw:/ota-firmware/firmware/1.0.0/a.bin"},
		{"/api/me", http.StatusNotFound, ""},
		{"/kioskx/api/me", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		resp, err := http.Get(ts.URL + tc.path)
		if err != nil {
			t.Fatalf("get %s: %v", tc.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: status %d, want %d", tc.path, resp.StatusCode, tc.status)
		}
		if tc.body != "" && string(body) != tc.body {
			t.Fatalf("%s: body %q, want %q", tc.path, body, tc.body)
		}
	}
}

func TestHealthReportsDatabase(t *testing.T) {
	healthy := New(":0", logging.Discard(), Handlers{}, fakePinger{}, "")
	rec := httptest.NewRecorder()
	healthy.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	broken := New(":0", logging.Discard(), Handlers{}, fakePinger{err: errors.New("down")}, "")
	rec = httptest.NewRecorder()
	broken.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	healthy.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
