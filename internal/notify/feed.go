package notify

import (
	"sort"

	"kiosk-fleet/internal/repo"
)

// BuildFeed reconciles the notifications visible to one recipient. Scoped rows keep their own read
// flag; broadcasts are read when readBroadcasts holds their id. Rows are deduplicated by id and
// sorted unread first, then newest first.
func BuildFeed(rows []repo.Notification, readBroadcasts []string) []repo.Notification {
	read := make(map[string]struct{}, len(readBroadcasts))
	for _, id := range readBroadcasts {
		read[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]repo.Notification, 0, len(rows))
	for _, n := range rows {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		if n.Broadcast() {
			_, n.IsRead = read[n.ID]
		}
		out = append(out, n)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsRead != out[j].IsRead {
			return !out[i].IsRead
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UnreadCount returns the number of unread rows in a reconciled feed.
func UnreadCount(feed []repo.Notification) int {
	n := 0
	for _, item := range feed {
		if !item.IsRead {
			n++
		}
	}
	return n
}
