package fleet

import (
	"context"
	"fmt"
	"log/slog"

	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
)

// Store is the persistence surface of kiosk administration.
type Store interface {
	CreateDevice(ctx context.Context, in repo.DeviceInput) (*repo.Device, error)
	UpdateDevice(ctx context.Context, id string, in repo.DeviceInput) (*repo.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	GetDevice(ctx context.Context, id string) (*repo.Device, error)
	ListDevices(ctx context.Context) ([]repo.Device, error)
	SetDeviceStatus(ctx context.Context, id string, status repo.DeviceStatus) (*repo.Device, error)
	BulkUpdatePrices(ctx context.Context, mode repo.PriceMode, value float64) ([]repo.Device, error)
}

// Publisher receives change events after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, table string, op realtime.Op, id, ownerID string) realtime.Event
}

// Service administers kiosks.
type Service struct {
	store  Store
	events Publisher
	logger *slog.Logger
}

func NewService(store Store, events Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, events: events, logger: logger.With("component", "fleet")}
}

func (s *Service) Create(ctx context.Context, in repo.DeviceInput) (*repo.Device, error) {
	device, err := s.store.CreateDevice(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("device created", "device_id", device.ID, "name", device.Name)
	s.publish(ctx, realtime.OpInsert, device.ID)
	return device, nil
}

func (s *Service) Update(ctx context.Context, id string, in repo.DeviceInput) (*repo.Device, error) {
	device, err := s.store.UpdateDevice(ctx, id, in)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.OpUpdate, device.ID)
	return device, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	s.logger.Info("device deleted", "device_id", id)
	s.publish(ctx, realtime.OpDelete, id)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*repo.Device, error) {
	return s.store.GetDevice(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]repo.Device, error) {
	return s.store.ListDevices(ctx)
}

// SetStatus moves a kiosk between online, offline and maintenance.
func (s *Service) SetStatus(ctx context.Context, id string, status repo.DeviceStatus) (*repo.Device, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown device status %q", repo.ErrInvalid, status)
	}
	device, err := s.store.SetDeviceStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("device status changed", "device_id", id, "status", status)
	s.publish(ctx, realtime.OpUpdate, id)
	return device, nil
}

// BulkPrice rewrites the price of every kiosk in one transaction.
func (s *Service) BulkPrice(ctx context.Context, mode repo.PriceMode, value float64) ([]repo.Device, error) {
	devices, err := s.store.BulkUpdatePrices(ctx, mode, value)
	if err != nil {
		return nil, err
	}
	s.logger.Info("bulk price update", "mode", mode, "value", value, "devices", len(devices))
	for _, d := range devices {
		s.publish(ctx, realtime.OpUpdate, d.ID)
	}
	return devices, nil
}

func (s *Service) publish(ctx context.Context, op realtime.Op, id string) {
	if s.events != nil {
		s.events.Publish(ctx, realtime.TableDevices, op, id, "")
	}
}
