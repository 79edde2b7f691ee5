package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kiosk-fleet/internal/auth"
	"kiosk-fleet/internal/fleet"
	"kiosk-fleet/internal/ledger"
	"kiosk-fleet/internal/locator"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/notify"
	"kiosk-fleet/internal/ota"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/internal/support"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Profiles is the profile surface used by handlers and the role gate.
type Profiles interface {
	auth.ProfileStore
	ListProfiles(ctx context.Context) ([]repo.Profile, error)
	UpdateProfile(ctx context.Context, id, fullName string, phone *string) (*repo.Profile, error)
}

// Deps carries every service the HTTP surface exposes.
type Deps struct {
	Auth      *auth.Service
	Profiles  Profiles
	Ledger    *ledger.Service
	OTA       *ota.Service
	Fleet     *fleet.Service
	Support   *support.Service
	Notify    *notify.Service
	Directory *locator.Directory
	Geocoder  *locator.Geocoder
	Hub       *realtime.Hub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// MaxUploadBytes bounds multipart firmware uploads.
	MaxUploadBytes int64
	// KeepAlive is the SSE comment interval; zero means 25s.
	KeepAlive time.Duration
}

// Server implements the JSON API.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.KeepAlive <= 0 {
		deps.KeepAlive = 25 * time.Second
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 16 << 20
	}
	return &Server{deps: deps, logger: deps.Logger.With("component", "api")}
}

// Router returns the API routes, all under /api.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	authn := auth.Middleware(s.deps.Auth.Issuer())
	admin := auth.RequireRole(s.deps.Profiles, repo.RoleAdmin, s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/signin", s.handleSignIn)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Get("/me", s.handleGetMe)
			r.Patch("/me", s.handlePatchMe)
			r.Get("/me/transactions", s.handleMyTransactions)
			r.Post("/me/topup", s.handleTopUp)
			r.Post("/me/payments", s.handleKioskPayment)
			r.Get("/me/tickets", s.handleMyTickets)
			r.Post("/me/tickets", s.handleCreateTicket)
			r.Get("/me/tickets/{id}/chat", s.handleMyTicketChat)
			r.Post("/me/tickets/{id}/replies", s.handleMyTicketReply)
			r.Get("/me/notifications", s.handleFeed)
			r.Post("/me/notifications/read-all", s.handleMarkAllRead)
			r.Post("/me/notifications/{id}/read", s.handleMarkRead)
			r.Get("/kiosks", s.handleKiosks)
			r.Get("/events", s.handleEvents)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn, admin)

			r.Get("/devices", s.handleListDevices)
			r.Post("/devices", s.handleCreateDevice)
			r.Post("/devices/bulk-price", s.handleBulkPrice)
			r.Get("/devices/{id}", s.handleGetDevice)
			r.Put("/devices/{id}", s.handleUpdateDevice)
			r.Delete("/devices/{id}", s.handleDeleteDevice)
			r.Post("/devices/{id}/status", s.handleSetDeviceStatus)

			r.Get("/customers", s.handleListCustomers)
			r.Post("/customers/{id}/balance", s.handleAdjustBalance)
			r.Get("/transactions", s.handleRecentTransactions)

			r.Get("/tickets", s.handleAllTickets)
			r.Get("/tickets/{id}/chat", s.handleAdminTicketChat)
			r.Post("/tickets/{id}/reply", s.handleAdminReply)
			r.Post("/tickets/{id}/resolve", s.handleResolveTicket)

			r.Get("/notifications", s.handleSentNotifications)
			r.Post("/notifications", s.handleSendNotification)

			r.Get("/ota/releases", s.handleListReleases)
			r.Post("/ota/releases", s.handleUploadRelease)
			r.Post("/ota/releases/{id}/deploy", s.handleDeploy)
			r.Get("/ota/commands", s.handleListCommands)
			r.Get("/ota/deployments", s.handleListDeployments)

			r.Get("/geocode", s.handleGeocode)
		})
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if s.deps.Metrics == nil {
			return
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(r.Method+" "+route, strconv.Itoa(status)).Inc()
	})
}

// callerID returns the authenticated profile id. Routes are always behind auth.Middleware.
func callerID(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		return claims.UserID
	}
	return ""
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return errBadRequest
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

var errBadRequest = errors.New("malformed request body")

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
