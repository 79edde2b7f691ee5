package locator

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kiosk-fleet/internal/cache"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/repo"
)

// ErrGeocodeFailed reports that the upstream geocoder could not answer.
var ErrGeocodeFailed = errors.New("geocode failed")

// Place is one geocoding match.
type Place struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// GeocoderConfig holds Nominatim client settings.
type GeocoderConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// Geocoder resolves free-text addresses through a Nominatim-compatible search API.
type Geocoder struct {
	logger    *slog.Logger
	baseURL   string
	userAgent string
	http      *http.Client
	metrics   *metrics.Metrics
	cache     *cache.Redis
	cacheTTL  time.Duration
}

// NewGeocoder builds a geocoder. redis may be nil to disable result caching.
func NewGeocoder(cfg GeocoderConfig, logger *slog.Logger, metricsRegistry *metrics.Metrics, redis *cache.Redis) *Geocoder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://nominatim.openstreetmap.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "kiosk-fleet/geocoder"
	}
	return &Geocoder{
		logger:    logger.With("component", "geocoder"),
		baseURL:   base,
		userAgent: ua,
		http:      &http.Client{Timeout: timeout},
		metrics:   metricsRegistry,
		cache:     redis,
		cacheTTL:  cfg.CacheTTL,
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode returns the matches for query. Upstream failures wrap ErrGeocodeFailed; there is no retry.
func (g *Geocoder) Geocode(ctx context.Context, query string) ([]Place, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", repo.ErrInvalid)
	}

	cacheKey := "kiosk:geocode:" + hashQuery(query)
	if g.cache != nil {
		var cached []Place
		ok, err := g.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			g.logger.Warn("read geocode cache failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	var raw []nominatimResult
	if err := g.do(ctx, "/search?format=json&q="+url.QueryEscape(query), &raw); err != nil {
		return nil, err
	}
	places := make([]Place, 0, len(raw))
	for _, r := range raw {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(r.Lat), 64)
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(r.Lon), 64)
		if errLat != nil || errLng != nil {
			continue
		}
		places = append(places, Place{Latitude: lat, Longitude: lng, DisplayName: r.DisplayName})
	}

	if g.cache != nil && g.cacheTTL > 0 {
		if err := g.cache.SetJSON(ctx, cacheKey, places, g.cacheTTL); err != nil {
			g.logger.Warn("set geocode cache failed", "error", err)
		}
	}
	return places, nil
}

func (g *Geocoder) do(ctx context.Context, endpoint string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", g.userAgent)

	start := time.Now()
	res, err := g.http.Do(req)
	if err != nil {
		g.observe("error", start)
		return fmt.Errorf("%w: %v", ErrGeocodeFailed, err)
	}
	defer res.Body.Close()
	status := strconv.Itoa(res.StatusCode)
	g.observe(status, start)

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGeocodeFailed, err)
	}
	if res.StatusCode >= 400 {
		g.logger.Warn("geocoder rejected request", "status", res.StatusCode, "body", truncate(string(body), 200))
		return fmt.Errorf("%w: upstream status %d", ErrGeocodeFailed, res.StatusCode)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGeocodeFailed, err)
	}
	return nil
}

func (g *Geocoder) observe(status string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.GeocoderRequests.WithLabelValues(status).Inc()
	g.metrics.GeocoderLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func hashQuery(q string) string {
	sum := sha1.Sum([]byte(strings.ToLower(q)))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
