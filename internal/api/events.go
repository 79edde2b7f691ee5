package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
)

// customerTables are the tables a non-admin may observe, further scoped to their own rows.
var customerTables = []string{
	realtime.TableProfiles,
	realtime.TableTransactions,
	realtime.TableDevices,
	realtime.TableTickets,
	realtime.TableReplies,
	realtime.TableNotifications,
}

// eventFilter scopes a stream by the caller's stored role. requested narrows the tables further.
func eventFilter(profile *repo.Profile, requested []string) realtime.Filter {
	var allowed []string
	var owner string
	if profile.Role != repo.RoleAdmin {
		allowed = customerTables
		owner = profile.ID
	}
	if len(requested) == 0 {
		return realtime.Filter{Tables: allowed, OwnerID: owner}
	}
	if allowed == nil {
		return realtime.Filter{Tables: requested}
	}
	var tables []string
	for _, t := range requested {
		for _, a := range allowed {
			if t == a {
				tables = append(tables, t)
			}
		}
	}
	if len(tables) == 0 {
		// Nothing permitted was asked for; match no table rather than all of them.
		tables = []string{"-"}
	}
	return realtime.Filter{Tables: tables, OwnerID: owner}
}

// handleEvents streams change events as Server-Sent Events until the client disconnects.
// A subscriber that falls behind gets a final "resync" event and the stream is closed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}
	profile, err := s.deps.Profiles.GetProfile(r.Context(), callerID(r))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	var requested []string
	for _, t := range strings.Split(r.URL.Query().Get("tables"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			requested = append(requested, t)
		}
	}
	sub := s.deps.Hub.Subscribe(eventFilter(profile, requested))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: 3000\n: seq %d\n\n", s.deps.Hub.Current())
	flusher.Flush()

	ticker := time.NewTicker(s.deps.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.Lagged():
			// Events were dropped; the client must refetch and reconnect.
			fmt.Fprintf(w, "event: resync\ndata: {\"seq\":%d}\n\n", s.deps.Hub.Current())
			flusher.Flush()
			s.logger.Warn("event stream lagged, closing", "profile_id", profile.ID)
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("encode event failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Table, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
