package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
)

// DeviceSource loads kiosks from the store.
type DeviceSource interface {
	GetDevice(ctx context.Context, id string) (*repo.Device, error)
	ListDevices(ctx context.Context) ([]repo.Device, error)
}

// EventSource is the realtime hub as seen by the directory.
type EventSource interface {
	Current() int64
	Subscribe(filter realtime.Filter) *realtime.Subscription
}

// Kiosk is a device annotated with its distance from the caller.
type Kiosk struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Location      string            `json:"location"`
	Latitude      float64           `json:"latitude"`
	Longitude     float64           `json:"longitude"`
	Status        repo.DeviceStatus `json:"status"`
	Price         int64             `json:"price"`
	DistanceKm    float64           `json:"distance_km"`
	DirectionsURL string            `json:"directions_url"`
}

// NearbyResult lists kiosks by distance. Nearest is the closest online kiosk, if any.
type NearbyResult struct {
	Kiosks  []Kiosk `json:"kiosks"`
	Nearest *Kiosk  `json:"nearest,omitempty"`
}

const resyncRetry = time.Second

// Directory keeps an in-memory view of every kiosk, reconciled per device from change events.
type Directory struct {
	source DeviceSource
	events EventSource
	logger *slog.Logger
	snap   *realtime.Snapshot[repo.Device]
	sub    *realtime.Subscription
}

func NewDirectory(source DeviceSource, events EventSource, logger *slog.Logger) *Directory {
	return &Directory{
		source: source,
		events: events,
		logger: logger.With("component", "directory"),
		snap:   realtime.NewSnapshot[repo.Device](),
	}
}

// Load subscribes to device changes and seeds the view. Call it once before Run.
func (d *Directory) Load(ctx context.Context) error {
	d.sub = d.events.Subscribe(realtime.Filter{Tables: []string{realtime.TableDevices}})
	if err := d.resync(ctx); err != nil {
		d.sub.Close()
		return err
	}
	return nil
}

// resync reloads every device stamped at the current sequence. Entries written by newer
// events are kept and devices missing from the store are tombstoned.
func (d *Directory) resync(ctx context.Context) error {
	seq := d.events.Current()
	devices, err := d.source.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	live := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		live[dev.ID] = struct{}{}
		d.snap.Apply(seq, dev.ID, dev)
	}
	for _, dev := range d.snap.Values() {
		if _, ok := live[dev.ID]; !ok {
			d.snap.Delete(seq, dev.ID)
		}
	}
	d.logger.Info("device directory loaded", "devices", len(devices), "seq", seq)
	return nil
}

// Run applies device events until ctx is cancelled or the hub closes. When the
// subscription reports dropped events the directory reloads from the store.
func (d *Directory) Run(ctx context.Context) {
	if d.sub == nil {
		return
	}
	defer d.sub.Close()
	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-d.sub.C():
			if !ok {
				return
			}
			d.handle(ctx, evt)
		case <-d.sub.Lagged():
			retry = d.reload(ctx)
		case <-retry:
			retry = d.reload(ctx)
		}
	}
}

// reload resynchronises after lost events and returns a retry timer if the reload failed.
func (d *Directory) reload(ctx context.Context) <-chan time.Time {
	if err := d.resync(ctx); err != nil {
		d.logger.Warn("directory resync failed", "error", err)
		return time.After(resyncRetry)
	}
	return nil
}

func (d *Directory) handle(ctx context.Context, evt realtime.Event) {
	if evt.Op == realtime.OpDelete {
		d.snap.Delete(evt.Seq, evt.ID)
		return
	}
	dev, err := d.source.GetDevice(ctx, evt.ID)
	if errors.Is(err, repo.ErrNotFound) {
		d.snap.Delete(evt.Seq, evt.ID)
		return
	}
	if err != nil {
		d.logger.Warn("refresh device failed", "error", err, "device_id", evt.ID, "seq", evt.Seq)
		return
	}
	d.snap.Apply(evt.Seq, dev.ID, *dev)
}

// Devices returns the current view sorted by name.
func (d *Directory) Devices() []repo.Device {
	out := d.snap.Values()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Nearby ranks the kiosks that have coordinates by distance from (lat, lng).
func (d *Directory) Nearby(lat, lng float64) NearbyResult {
	return Rank(d.Devices(), lat, lng)
}

// Rank annotates devices with distance and directions and sorts them nearest first.
// Devices without coordinates are skipped.
func Rank(devices []repo.Device, lat, lng float64) NearbyResult {
	kiosks := make([]Kiosk, 0, len(devices))
	for _, dev := range devices {
		if dev.Latitude == nil || dev.Longitude == nil {
			continue
		}
		kiosks = append(kiosks, Kiosk{
			ID:            dev.ID,
			Name:          dev.Name,
			Location:      dev.Location,
			Latitude:      *dev.Latitude,
			Longitude:     *dev.Longitude,
			Status:        dev.Status,
			Price:         dev.Price,
			DistanceKm:    DistanceKm(lat, lng, *dev.Latitude, *dev.Longitude),
			DirectionsURL: DirectionsURL(*dev.Latitude, *dev.Longitude),
		})
	}
	sort.SliceStable(kiosks, func(i, j int) bool {
		return kiosks[i].DistanceKm < kiosks[j].DistanceKm
	})

	res := NearbyResult{Kiosks: kiosks}
	for i := range kiosks {
		if kiosks[i].Status == repo.DeviceOnline {
			nearest := kiosks[i]
			res.Nearest = &nearest
			break
		}
	}
	return res
}
