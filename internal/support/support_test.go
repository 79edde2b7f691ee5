package support

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kiosk-fleet/internal/logging"
	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
	"kiosk-fleet/migrations"
)

func TestMergeChatKeepsLegacyReplyOnce(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	legacy := "  Please restart the kiosk. "
	ticket := repo.Ticket{
		ID:         "t1",
		UserID:     "u1",
		Message:    "It is stuck",
		AdminReply: &legacy,
		CreatedAt:  base,
		UpdatedAt:  base.Add(time.Hour),
	}

	onlyLegacy := MergeChat(ticket, nil)
	if len(onlyLegacy) != 2 || !onlyLegacy[1].Legacy || onlyLegacy[1].Message != "Please restart the kiosk." {
		t.Fatalf("expected opening message and legacy reply, got %+v", onlyLegacy)
	}

	replies := []repo.TicketReply{
		{ID: "r2", UserID: "u1", Message: "Did that", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "r1", UserID: "a1", Message: "Please restart the kiosk.", IsAdmin: true, CreatedAt: base.Add(time.Hour)},
	}
	merged := MergeChat(ticket, replies)
	if len(merged) != 3 {
		t.Fatalf("expected legacy reply deduplicated, got %+v", merged)
	}
	want := []string{"t1", "r1", "r2"}
	for i, id := range want {
		if merged[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, merged[i].ID)
		}
	}
	for _, e := range merged {
		if e.Legacy {
			t.Fatalf("unexpected legacy entry %+v", e)
		}
	}

	other := "Different answer"
	ticket.AdminReply = &other
	if got := MergeChat(ticket, replies); len(got) != 4 {
		t.Fatalf("expected distinct legacy reply kept, got %d entries", len(got))
	}
}

func newTestService(t *testing.T) (*Service, *repo.SQLiteRepository, *realtime.Hub) {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "support.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	files, _ := migrations.For("sqlite")
	if err := store.RunMigrations(ctx, files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := realtime.NewHub(nil, logging.Discard(), metrics.NewUnregistered("test"))
	return NewService(store, hub, logging.Discard()), store, hub
}

func TestTicketLifecycle(t *testing.T) {
	svc, store, hub := newTestService(t)
	ctx := context.Background()
	owner, err := store.CreateProfile(ctx, repo.NewProfile{Email: "owner@example.com", PasswordHash: "x", FullName: "Owner"})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	stranger, err := store.CreateProfile(ctx, repo.NewProfile{Email: "other@example.com", PasswordHash: "x", FullName: "Other"})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	admin, err := store.CreateProfile(ctx, repo.NewProfile{Email: "admin@example.com", PasswordHash: "x", FullName: "Admin", Role: repo.RoleAdmin})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}

	sub := hub.Subscribe(realtime.Filter{OwnerID: stranger.ID, Tables: []string{realtime.TableTickets, realtime.TableReplies}})
	defer sub.Close()

	ticket, err := svc.CreateTicket(ctx, owner.ID, "Stuck", "Door will not open")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if ticket.Status != repo.TicketOpen {
		t.Fatalf("expected open, got %s", ticket.Status)
	}

	if _, err := svc.Reply(ctx, ticket.ID, stranger.ID, "me too"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger reply, got %v", err)
	}
	if _, err := svc.Chat(ctx, ticket.ID, stranger.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger chat, got %v", err)
	}
	if _, err := svc.Reply(ctx, ticket.ID, owner.ID, "Still stuck"); err != nil {
		t.Fatalf("owner reply: %v", err)
	}
	if _, err := svc.AdminReply(ctx, ticket.ID, admin.ID, "Restarting it now"); err != nil {
		t.Fatalf("admin reply: %v", err)
	}

	chat, err := svc.Chat(ctx, ticket.ID, owner.ID)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if chat.Ticket.Status != repo.TicketInProgress {
		t.Fatalf("expected in_progress, got %s", chat.Ticket.Status)
	}
	if len(chat.Messages) != 3 {
		t.Fatalf("expected opening, customer and admin messages, got %+v", chat.Messages)
	}
	if !chat.Messages[2].IsAdmin || chat.Messages[2].Legacy {
		t.Fatalf("expected admin reply row last, got %+v", chat.Messages[2])
	}

	if _, err := svc.Resolve(ctx, ticket.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.Resolve(ctx, ticket.ID); err != nil {
		t.Fatalf("resolve twice: %v", err)
	}
	if _, err := svc.Reply(ctx, ticket.ID, owner.ID, "hello?"); !errors.Is(err, repo.ErrTicketClosed) {
		t.Fatalf("expected ErrTicketClosed, got %v", err)
	}
	if _, err := svc.AdminReply(ctx, ticket.ID, admin.ID, "late"); !errors.Is(err, repo.ErrTicketClosed) {
		t.Fatalf("expected ErrTicketClosed for admin, got %v", err)
	}

	select {
	case evt := <-sub.C():
		t.Fatalf("stranger received another profile's event: %+v", evt)
	default:
	}

	mine, err := svc.Tickets(ctx, owner.ID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected one owned ticket, got %d: %v", len(mine), err)
	}
	theirs, err := svc.Tickets(ctx, stranger.ID)
	if err != nil || len(theirs) != 0 {
		t.Fatalf("expected no tickets for stranger, got %d: %v", len(theirs), err)
	}
}
