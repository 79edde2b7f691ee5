package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/internal/storage"
)

// ErrArtifact rejects an upload that carries both or neither of a firmware file and URL.
var ErrArtifact = errors.New("exactly one of firmware file or firmware url is required")

// Store is the persistence surface of OTA releases and dispatch.
type Store interface {
	CreateRelease(ctx context.Context, release repo.OTARelease) (*repo.OTARelease, error)
	ListReleases(ctx context.Context) ([]repo.OTARelease, error)
	DeployRelease(ctx context.Context, req repo.DeployRequest) (*repo.Deployment, error)
	ListCommands(ctx context.Context, deviceID string, limit int) ([]repo.Command, error)
	ListDeployments(ctx context.Context, limit int) ([]repo.Deployment, error)
}

// ObjectStore keeps firmware artifacts and exposes their public URLs.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	PublicURL(key string) string
}

// Publisher receives change events after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, table string, op realtime.Op, id, ownerID string) realtime.Event
}

// Upload describes a new firmware release. Set either File (with FileName) or URL.
type Upload struct {
	Version     string
	Description string
	FileName    string
	File        io.Reader
	URL         string
}

// Target selects the devices of a deployment.
type Target struct {
	All       bool     `json:"all"`
	DeviceIDs []string `json:"device_ids"`
}

// Service manages firmware releases and their dispatch to kiosks.
type Service struct {
	store   Store
	objects ObjectStore
	events  Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	// uploadMu keeps the version check and the artifact write of one upload together.
	uploadMu sync.Mutex
}

// NewService wires the OTA service.
func NewService(store Store, objects ObjectStore, events Publisher, metricsRegistry *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		objects: objects,
		events:  events,
		metrics: metricsRegistry,
		logger:  logger.With("component", "ota"),
	}
}

// UploadRelease stores the artifact when one is given and records an inactive release.
func (s *Service) UploadRelease(ctx context.Context, up Upload) (*repo.OTARelease, error) {
	version := strings.TrimSpace(up.Version)
	if version == "" {
		return nil, fmt.Errorf("%w: release version is required", repo.ErrInvalid)
	}
	rawURL := strings.TrimSpace(up.URL)
	if (up.File == nil) == (rawURL == "") {
		return nil, ErrArtifact
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	// An existing release keeps its artifact; check before anything is written.
	if err := s.checkNewVersion(ctx, version); err != nil {
		return nil, err
	}

	firmwareURL := rawURL
	if up.File != nil {
		key, err := storage.FirmwareKey(version, up.FileName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", repo.ErrInvalid, err)
		}
		size, err := s.objects.Put(ctx, key, up.File)
		if err != nil {
			return nil, fmt.Errorf("store firmware: %w", err)
		}
		firmwareURL = s.objects.PublicURL(key)
		s.logger.Info("firmware stored", "key", key, "bytes", size)
	} else if err := checkURL(rawURL); err != nil {
		return nil, err
	}

	rel, err := s.store.CreateRelease(ctx, repo.OTARelease{
		Version:     version,
		Description: strings.TrimSpace(up.Description),
		FirmwareURL: firmwareURL,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("release created", "release_id", rel.ID, "version", rel.Version)
	if s.events != nil {
		s.events.Publish(ctx, realtime.TableReleases, realtime.OpInsert, rel.ID, "")
	}
	return rel, nil
}

// Deploy activates the release and queues an OTA_UPDATE command for every target in one transaction.
// On error nothing is applied.
func (s *Service) Deploy(ctx context.Context, releaseID string, target Target, actorID string) (*repo.Deployment, error) {
	req := repo.DeployRequest{
		ReleaseID: releaseID,
		All:       target.All,
		DeviceIDs: target.DeviceIDs,
	}
	if actorID != "" {
		req.ActorID = &actorID
	}

	dep, err := s.store.DeployRelease(ctx, req)
	if err != nil {
		s.metrics.OTADispatches.WithLabelValues(dispatchOutcome(err)).Inc()
		s.logger.Warn("deployment not applied", "error", err, "release_id", releaseID, "all", target.All)
		return nil, err
	}
	s.metrics.OTADispatches.WithLabelValues("applied").Inc()
	s.metrics.OTACommands.Add(float64(dep.DeviceCount))
	s.logger.Info("deployment applied",
		"deployment_id", dep.ID,
		"release_id", dep.ReleaseID,
		"target_mode", dep.TargetMode,
		"devices", dep.DeviceCount,
	)

	if s.events != nil {
		s.events.Publish(ctx, realtime.TableReleases, realtime.OpUpdate, dep.ReleaseID, "")
		for _, id := range dep.DeviceIDs {
			s.events.Publish(ctx, realtime.TableDevices, realtime.OpUpdate, id, "")
			s.events.Publish(ctx, realtime.TableCommands, realtime.OpInsert, id, "")
		}
	}
	return dep, nil
}

func (s *Service) ListReleases(ctx context.Context) ([]repo.OTARelease, error) {
	return s.store.ListReleases(ctx)
}

// ListCommands returns the newest commands, optionally for one device.
func (s *Service) ListCommands(ctx context.Context, deviceID string, limit int) ([]repo.Command, error) {
	return s.store.ListCommands(ctx, deviceID, limit)
}

func (s *Service) ListDeployments(ctx context.Context, limit int) ([]repo.Deployment, error) {
	return s.store.ListDeployments(ctx, limit)
}

func (s *Service) checkNewVersion(ctx context.Context, version string) error {
	releases, err := s.store.ListReleases(ctx)
	if err != nil {
		return fmt.Errorf("list releases: %w", err)
	}
	for _, rel := range releases {
		if rel.Version == version {
			return fmt.Errorf("release %s: %w", version, repo.ErrConflict)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: firmware url must be an absolute http(s) url", repo.ErrInvalid)
	}
	return nil
}

func dispatchOutcome(err error) string {
	switch {
	case errors.Is(err, repo.ErrEmptyTargetSet):
		return "empty_target_set"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
