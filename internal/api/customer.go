package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"kiosk-fleet/internal/realtime"

	"github.com/go-chi/chi/v5"
)

type signUpRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName string  `json:"full_name"`
	Phone    *string `json:"phone"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	sess, err := s.deps.Auth.SignUp(r.Context(), req.Email, req.Password, strings.TrimSpace(req.FullName), trimmedPtr(req.Phone))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	sess, err := s.deps.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	profile, err := s.deps.Auth.Profile(r.Context(), callerID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type patchMeRequest struct {
	FullName string  `json:"full_name"`
	Phone    *string `json:"phone"`
}

func (s *Server) handlePatchMe(w http.ResponseWriter, r *http.Request) {
	var req patchMeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	id := callerID(r)
	profile, err := s.deps.Profiles.UpdateProfile(r.Context(), id, strings.TrimSpace(req.FullName), trimmedPtr(req.Phone))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.deps.Hub.Publish(r.Context(), realtime.TableProfiles, realtime.OpUpdate, id, id)
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.deps.Ledger.Transactions(r.Context(), callerID(r), parseLimit(r, 50))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type topUpRequest struct {
	Amount     int64  `json:"amount"`
	CardNumber string `json:"card_number"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	res, err := s.deps.Ledger.TopUp(r.Context(), callerID(r), req.Amount, req.CardNumber)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type paymentRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleKioskPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "missing_device_id")
		return
	}
	res, err := s.deps.Ledger.KioskPayment(r.Context(), callerID(r), strings.TrimSpace(req.DeviceID))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMyTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.deps.Support.Tickets(r.Context(), callerID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

type createTicketRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	t, err := s.deps.Support.CreateTicket(r.Context(), callerID(r), req.Subject, req.Message)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleMyTicketChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.deps.Support.Chat(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

type replyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleMyTicketReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	reply, err := s.deps.Support.Reply(r.Context(), chi.URLParam(r, "id"), callerID(r), req.Message)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.deps.Notify.Feed(r.Context(), callerID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notify.MarkRead(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notify.MarkAllRead(r.Context(), callerID(r)); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleKiosks lists kiosks from the in-memory directory, ranked by distance when lat and lng are given.
func (s *Server) handleKiosks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" {
		writeJSON(w, http.StatusOK, map[string]any{"kiosks": s.deps.Directory.Devices()})
		return
	}
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	// NaN passes every range comparison.
	if errLat != nil || errLng != nil || math.IsNaN(lat) || math.IsNaN(lng) ||
		lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(w, http.StatusBadRequest, "invalid_coordinates")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Directory.Nearby(lat, lng))
}
