package api

import (
	"errors"
	"net/http"

	"kiosk-fleet/internal/auth"
	"kiosk-fleet/internal/ledger"
	"kiosk-fleet/internal/locator"
	"kiosk-fleet/internal/ota"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/internal/storage"
)

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{errBadRequest, http.StatusBadRequest, "invalid_request"},
	{repo.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{repo.ErrNotFound, http.StatusNotFound, "not_found"},
	{repo.ErrTicketClosed, http.StatusConflict, "ticket_closed"},
	{repo.ErrEmptyTargetSet, http.StatusUnprocessableEntity, "empty_target_set"},
	{repo.ErrConflict, http.StatusConflict, "conflict"},
	{repo.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{repo.ErrInvalid, http.StatusBadRequest, "invalid_input"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
	{ledger.ErrInvalidCard, http.StatusBadRequest, "invalid_card"},
	{ledger.ErrDeviceUnavailable, http.StatusConflict, "device_unavailable"},
	{ota.ErrArtifact, http.StatusBadRequest, "invalid_input"},
	{storage.ErrTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
	{storage.ErrInvalidPath, http.StatusBadRequest, "invalid_input"},
	{locator.ErrGeocodeFailed, http.StatusBadGateway, "geocode_failed"},
}

// handleError maps domain errors to status codes; anything unknown is logged and reported as 500.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.code)
			return
		}
	}
	s.logger.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	if s.deps.Metrics != nil {
		s.deps.Metrics.Errors.WithLabelValues("api").Inc()
	}
	writeError(w, http.StatusInternalServerError, "internal_error")
}
