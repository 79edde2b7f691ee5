package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"kiosk-fleet/internal/auth"
	"kiosk-fleet/internal/logging"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/migrations"
)

// stalledWriter accepts the stream preamble, then blocks every write until released.
type stalledWriter struct {
	header  http.Header
	mu      sync.Mutex
	buf     bytes.Buffer
	writes  int
	started chan struct{}
	release chan struct{}
}

func newStalledWriter() *stalledWriter {
	return &stalledWriter{header: http.Header{}, started: make(chan struct{}), release: make(chan struct{})}
}

func (w *stalledWriter) Header() http.Header { return w.header }
func (w *stalledWriter) WriteHeader(int)     {}
func (w *stalledWriter) Flush()              {}

func (w *stalledWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.writes++
	n := w.writes
	w.mu.Unlock()
	if n == 1 {
		close(w.started)
	} else {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *stalledWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestEventStreamClosesWhenSubscriberLags(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "events.db"), logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	files, _ := migrations.For("sqlite")
	if err := store.RunMigrations(ctx, files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	admin, err := store.CreateProfile(ctx, repo.NewProfile{Email: "ops@example.com", PasswordHash: "hash", FullName: "Ops", Role: repo.RoleAdmin})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	hub := realtime.NewHub(nil, logger, metrics.NewUnregistered("test"))
	srv := NewServer(Deps{Profiles: store, Hub: hub, Logger: logger, KeepAlive: time.Hour})

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{UserID: admin.ID, Role: repo.RoleAdmin}))
	w := newStalledWriter()
	done := make(chan struct{})
	go func() {
		srv.handleEvents(w, req)
		close(done)
	}()

	select {
	case <-w.started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never started")
	}
	for i := 0; i < 200; i++ {
		hub.Publish(ctx, realtime.TableDevices, realtime.OpUpdate, "d1", "")
	}
	close(w.release)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("lagging stream was not closed")
	}
	if body := w.String(); !strings.Contains(body, "event: resync") {
		t.Fatalf("expected resync event before close, got %q", body)
	}
}
