package api

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"kiosk-fleet/internal/auth"
	"kiosk-fleet/internal/ota"
	"kiosk-fleet/internal/repo"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Fleet.List(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var in repo.DeviceInput
	if err := decodeJSON(r, &in); err != nil {
		s.handleError(w, r, err)
		return
	}
	device, err := s.deps.Fleet.Create(r.Context(), in)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.deps.Fleet.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var in repo.DeviceInput
	if err := decodeJSON(r, &in); err != nil {
		s.handleError(w, r, err)
		return
	}
	device, err := s.deps.Fleet.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Fleet.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status repo.DeviceStatus `json:"status"`
}

func (s *Server) handleSetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	device, err := s.deps.Fleet.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

type bulkPriceRequest struct {
	Mode  repo.PriceMode `json:"mode"`
	Value float64        `json:"value"`
}

func (s *Server) handleBulkPrice(w http.ResponseWriter, r *http.Request) {
	var req bulkPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	devices, err := s.deps.Fleet.BulkPrice(r.Context(), req.Mode, req.Value)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.deps.Profiles.ListProfiles(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": profiles})
}

type balanceRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	res, err := s.deps.Ledger.AdminAdjust(r.Context(), callerID(r), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecentTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.deps.Ledger.RecentTransactions(r.Context(), parseLimit(r, 100))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleAllTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.deps.Support.Tickets(r.Context(), "")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) handleAdminTicketChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.deps.Support.Chat(r.Context(), chi.URLParam(r, "id"), "")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleAdminReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	reply, err := s.deps.Support.AdminReply(r.Context(), chi.URLParam(r, "id"), callerID(r), req.Message)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleResolveTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Support.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSentNotifications(w http.ResponseWriter, r *http.Request) {
	sent, err := s.deps.Notify.ListSent(r.Context(), parseLimit(r, 100))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": sent})
}

type sendNotificationRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
}

func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	n, err := s.deps.Notify.Send(r.Context(), req.Title, req.Message, req.Type, strings.TrimSpace(req.UserID))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := s.deps.OTA.ListReleases(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"releases": releases})
}

type releaseRequest struct {
	Version     string `json:"version"`
	Description string `json:"description"`
	FirmwareURL string `json:"firmware_url"`
}

// handleUploadRelease accepts a multipart form with a "file" part, or JSON carrying firmware_url.
func (s *Server) handleUploadRelease(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req releaseRequest
		if err := decodeJSON(r, &req); err != nil {
			s.handleError(w, r, err)
			return
		}
		s.createRelease(w, r, ota.Upload{Version: req.Version, Description: req.Description, URL: req.FirmwareURL})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	up := ota.Upload{
		Version:     r.FormValue("version"),
		Description: r.FormValue("description"),
		URL:         r.FormValue("firmware_url"),
	}
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		up.File = file
		up.FileName = header.Filename
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	s.createRelease(w, r, up)
}

func (s *Server) createRelease(w http.ResponseWriter, r *http.Request, up ota.Upload) {
	rel, err := s.deps.OTA.UploadRelease(r.Context(), up)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var target ota.Target
	if err := decodeJSON(r, &target); err != nil {
		s.handleError(w, r, err)
		return
	}
	actor := ""
	if p := auth.ProfileFromContext(r.Context()); p != nil {
		actor = p.ID
	}
	dep, err := s.deps.OTA.Deploy(r.Context(), chi.URLParam(r, "id"), target, actor)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := s.deps.OTA.ListCommands(r.Context(), strings.TrimSpace(r.URL.Query().Get("device_id")), parseLimit(r, 100))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.deps.OTA.ListDeployments(r.Context(), parseLimit(r, 50))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	places, err := s.deps.Geocoder.Geocode(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": places})
}
