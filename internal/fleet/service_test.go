package fleet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kiosk-fleet/internal/logging"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/migrations"
)

func newTestService(t *testing.T) (*Service, *realtime.Hub) {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "fleet.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	files, _ := migrations.For("sqlite")
	if err := store.RunMigrations(ctx, files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := realtime.NewHub(nil, logging.Discard(), metrics.NewUnregistered("test"))
	return NewService(store, hub, logging.Discard()), hub
}

func nextEvent(t *testing.T, sub *realtime.Subscription) realtime.Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return realtime.Event{}
}

func TestDeviceChangesPublishEvents(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	sub := hub.Subscribe(realtime.Filter{Tables: []string{realtime.TableDevices}})
	defer sub.Close()

	device, err := svc.Create(ctx, repo.DeviceInput{Name: "Lobby", Price: 20})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if evt := nextEvent(t, sub); evt.Op != realtime.OpInsert || evt.ID != device.ID {
		t.Fatalf("unexpected insert event: %+v", evt)
	}

	if _, err := svc.SetStatus(ctx, device.ID, "broken"); !errors.Is(err, repo.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	updated, err := svc.SetStatus(ctx, device.ID, repo.DeviceMaintenance)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != repo.DeviceMaintenance {
		t.Fatalf("expected maintenance, got %s", updated.Status)
	}
	first := nextEvent(t, sub)
	if first.Op != realtime.OpUpdate {
		t.Fatalf("unexpected status event: %+v", first)
	}

	if err := svc.Delete(ctx, device.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	last := nextEvent(t, sub)
	if last.Op != realtime.OpDelete || last.Seq <= first.Seq {
		t.Fatalf("expected later delete event, got %+v after %+v", last, first)
	}
	if _, err := svc.Get(ctx, device.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBulkPriceRejectsNegativeDevicePrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, repo.DeviceInput{Name: "Bad", Price: -1}); !errors.Is(err, repo.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := svc.Create(ctx, repo.DeviceInput{Name: "Mall", Price: 40}); err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := svc.BulkPrice(ctx, repo.PriceFixed, 25)
	if err != nil {
		t.Fatalf("bulk price: %v", err)
	}
	if len(out) != 1 || out[0].Price != 25 {
		t.Fatalf("unexpected prices: %+v", out)
	}
}
