package support

import (
	"sort"
	"strings"
	"time"

	"kiosk-fleet/internal/repo"
)

// ChatEntry is one message in the merged conversation of a ticket.
type ChatEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Message   string    `json:"message"`
	IsAdmin   bool      `json:"is_admin"`
	Legacy    bool      `json:"legacy,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MergeChat builds the conversation of a ticket: the opening message, every reply in time order and
// the ticket's admin_reply column when no admin reply row carries the same text.
func MergeChat(ticket repo.Ticket, replies []repo.TicketReply) []ChatEntry {
	out := make([]ChatEntry, 0, len(replies)+2)
	out = append(out, ChatEntry{
		ID:        ticket.ID,
		UserID:    ticket.UserID,
		Message:   ticket.Message,
		CreatedAt: ticket.CreatedAt,
	})

	adminTexts := make(map[string]struct{})
	for _, r := range replies {
		out = append(out, ChatEntry{
			ID:        r.ID,
			UserID:    r.UserID,
			Message:   r.Message,
			IsAdmin:   r.IsAdmin,
			CreatedAt: r.CreatedAt,
		})
		if r.IsAdmin {
			adminTexts[strings.TrimSpace(r.Message)] = struct{}{}
		}
	}

	if ticket.AdminReply != nil {
		legacy := strings.TrimSpace(*ticket.AdminReply)
		if _, dup := adminTexts[legacy]; legacy != "" && !dup {
			out = append(out, ChatEntry{
				ID:        ticket.ID + ":admin_reply",
				Message:   legacy,
				IsAdmin:   true,
				Legacy:    true,
				CreatedAt: ticket.UpdatedAt,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
