package locator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"kiosk-fleet/internal/fleet"
	"kiosk-fleet/internal/logging"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/migrations"
)

func TestDistanceKm(t *testing.T) {
	// Taksim Square to Kadikoy pier, roughly 6 km.
	got := DistanceKm(41.0370, 28.9850, 40.9923, 29.0244)
	if got < 5.5 || got > 6.5 {
		t.Fatalf("unexpected distance %v", got)
	}
	if DistanceKm(41, 29, 41, 29) != 0 {
		t.Fatal("expected zero distance for identical points")
	}
}

func TestDirectionsURL(t *testing.T) {
	want := "https://www.google.com/maps/dir/?api=1&destination=41.0082,28.9784"
	if got := DirectionsURL(41.0082, 28.9784); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRankSkipsMissingCoordinatesAndPicksOnlineNearest(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	devices := []repo.Device{
		{ID: "near-offline", Latitude: f(41.001), Longitude: f(29.001), Status: repo.DeviceOffline},
		{ID: "far-online", Latitude: f(41.1), Longitude: f(29.1), Status: repo.DeviceOnline},
		{ID: "nowhere", Status: repo.DeviceOnline},
	}
	res := Rank(devices, 41, 29)
	if len(res.Kiosks) != 2 || res.Kiosks[0].ID != "near-offline" {
		t.Fatalf("unexpected ranking: %+v", res.Kiosks)
	}
	if res.Nearest == nil || res.Nearest.ID != "far-online" {
		t.Fatalf("expected nearest online kiosk, got %+v", res.Nearest)
	}
	if res.Kiosks[0].DirectionsURL == "" {
		t.Fatal("expected directions url")
	}
}

func TestGeocodeParsesNominatim(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" || r.URL.Query().Get("q") != "Istiklal Cd Beyoglu" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.Header.Get("User-Agent") != "kiosk-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"41.0340","lon":"28.9770","display_name":"Istiklal"},{"lat":"bad","lon":"1"}]`))
	}))
	defer srv.Close()

	g := NewGeocoder(GeocoderConfig{BaseURL: srv.URL, UserAgent: "kiosk-test"}, logging.Discard(), metrics.NewUnregistered("test"), nil)
	places, err := g.Geocode(context.Background(), "  Istiklal Cd   Beyoglu ")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if len(places) != 1 || places[0].Latitude != 41.034 || places[0].DisplayName != "Istiklal" {
		t.Fatalf("unexpected places: %+v", places)
	}
	if _, err := g.Geocode(context.Background(), "   "); !errors.Is(err, repo.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty query, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", hits.Load())
	}
}

func TestGeocodeSurfacesUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGeocoder(GeocoderConfig{BaseURL: srv.URL}, logging.Discard(), metrics.NewUnregistered("test"), nil)
	if _, err := g.Geocode(context.Background(), "anywhere"); !errors.Is(err, ErrGeocodeFailed) {
		t.Fatalf("expected ErrGeocodeFailed, got %v", err)
	}
}

func TestDirectoryReconcilesFromEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "dir.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	files, _ := migrations.For("sqlite")
	if err := store.RunMigrations(ctx, files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := realtime.NewHub(nil, logging.Discard(), metrics.NewUnregistered("test"))

	lat, lng := 41.0, 29.0
	first, err := store.CreateDevice(ctx, repo.DeviceInput{Name: "First", Latitude: &lat, Longitude: &lng})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}

	dir := NewDirectory(store, hub, logging.Discard())
	if err := dir.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	done := make(chan struct{})
	go func() {
		dir.Run(ctx)
		close(done)
	}()

	second, err := store.CreateDevice(ctx, repo.DeviceInput{Name: "Second", Latitude: &lat, Longitude: &lng})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	hub.Publish(ctx, realtime.TableDevices, realtime.OpInsert, second.ID, "")
	if err := store.DeleteDevice(ctx, first.ID); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	hub.Publish(ctx, realtime.TableDevices, realtime.OpDelete, first.ID, "")

	deadline := time.Now().Add(2 * time.Second)
	for {
		devices := dir.Devices()
		if len(devices) == 1 && devices[0].ID == second.ID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("directory did not converge: %+v", devices)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("directory did not stop")
	}
}

func TestDirectoryConvergesAfterEventBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "burst.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	files, _ := migrations.For("sqlite")
	if err := store.RunMigrations(ctx, files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := realtime.NewHub(nil, logging.Discard(), metrics.NewUnregistered("test"))

	const kiosks = 200
	for i := 0; i < kiosks; i++ {
		if _, err := store.CreateDevice(ctx, repo.DeviceInput{Name: fmt.Sprintf("kiosk-%03d", i), Price: 10}); err != nil {
			t.Fatalf("create device: %v", err)
		}
	}

	dir := NewDirectory(store, hub, logging.Discard())
	if err := dir.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	// The whole burst lands before Run starts, so the subscription overflows.
	if _, err := fleet.NewService(store, hub, logging.Discard()).BulkPrice(ctx, repo.PriceFixed, 50); err != nil {
		t.Fatalf("bulk price: %v", err)
	}
	go dir.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		stale := 0
		devices := dir.Devices()
		for _, d := range devices {
			if d.Price != 50 {
				stale++
			}
		}
		if len(devices) == kiosks && stale == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("directory stale after bulk price: %d of %d entries, %d total", stale, kiosks, len(devices))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
