package support

import (
	"context"
	"fmt"
	"log/slog"

	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
)

// Store is the persistence surface of support tickets.
type Store interface {
	CreateTicket(ctx context.Context, userID, subject, message string) (*repo.Ticket, error)
	GetTicket(ctx context.Context, id string) (*repo.Ticket, error)
	ListTickets(ctx context.Context, userID string) ([]repo.Ticket, error)
	ListReplies(ctx context.Context, ticketID string) ([]repo.TicketReply, error)
	AddReply(ctx context.Context, ticketID, userID, message string) (*repo.TicketReply, error)
	AdminReplyTicket(ctx context.Context, ticketID, adminID, message string) (*repo.TicketReply, error)
	ResolveTicket(ctx context.Context, ticketID string) (*repo.Ticket, error)
}

// Publisher receives change events after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, table string, op realtime.Op, id, ownerID string) realtime.Event
}

// Chat is a ticket together with its merged conversation.
type Chat struct {
	Ticket   *repo.Ticket `json:"ticket"`
	Messages []ChatEntry  `json:"messages"`
}

// Service runs the ticket lifecycle: open, in_progress, closed.
type Service struct {
	store  Store
	events Publisher
	logger *slog.Logger
}

func NewService(store Store, events Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, events: events, logger: logger.With("component", "support")}
}

// CreateTicket opens a ticket for ownerID.
func (s *Service) CreateTicket(ctx context.Context, ownerID, subject, message string) (*repo.Ticket, error) {
	t, err := s.store.CreateTicket(ctx, ownerID, subject, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ticket opened", "ticket_id", t.ID, "user_id", ownerID)
	s.publish(ctx, realtime.TableTickets, realtime.OpInsert, t.ID, ownerID)
	return t, nil
}

// Reply appends a customer message. Only the ticket owner may reply; other callers see ErrNotFound.
func (s *Service) Reply(ctx context.Context, ticketID, authorID, message string) (*repo.TicketReply, error) {
	if _, err := s.ownedTicket(ctx, ticketID, authorID); err != nil {
		return nil, err
	}
	reply, err := s.store.AddReply(ctx, ticketID, authorID, message)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.TableReplies, realtime.OpInsert, reply.ID, authorID)
	s.publish(ctx, realtime.TableTickets, realtime.OpUpdate, ticketID, authorID)
	return reply, nil
}

// AdminReply answers a ticket, advances it to in_progress and notifies the owner in one transaction.
func (s *Service) AdminReply(ctx context.Context, ticketID, adminID, message string) (*repo.TicketReply, error) {
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	reply, err := s.store.AdminReplyTicket(ctx, ticketID, adminID, message)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ticket answered", "ticket_id", ticketID, "admin_id", adminID)
	s.publish(ctx, realtime.TableReplies, realtime.OpInsert, reply.ID, t.UserID)
	s.publish(ctx, realtime.TableTickets, realtime.OpUpdate, ticketID, t.UserID)
	// The notification id is not returned by the procedure; subscribers refetch the feed.
	s.publish(ctx, realtime.TableNotifications, realtime.OpInsert, "", t.UserID)
	return reply, nil
}

// Resolve closes the ticket. Closing a closed ticket is a no-op.
func (s *Service) Resolve(ctx context.Context, ticketID string) (*repo.Ticket, error) {
	t, err := s.store.ResolveTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ticket resolved", "ticket_id", ticketID)
	s.publish(ctx, realtime.TableTickets, realtime.OpUpdate, t.ID, t.UserID)
	return t, nil
}

// Chat returns the merged conversation. A non-empty viewerID restricts access to the owner.
func (s *Service) Chat(ctx context.Context, ticketID, viewerID string) (*Chat, error) {
	var (
		t   *repo.Ticket
		err error
	)
	if viewerID != "" {
		t, err = s.ownedTicket(ctx, ticketID, viewerID)
	} else {
		t, err = s.store.GetTicket(ctx, ticketID)
	}
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("load replies: %w", err)
	}
	return &Chat{Ticket: t, Messages: MergeChat(*t, replies)}, nil
}

// Tickets lists the tickets of ownerID, or every ticket when ownerID is empty.
func (s *Service) Tickets(ctx context.Context, ownerID string) ([]repo.Ticket, error) {
	return s.store.ListTickets(ctx, ownerID)
}

func (s *Service) ownedTicket(ctx context.Context, ticketID, userID string) (*repo.Ticket, error) {
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, repo.ErrNotFound
	}
	return t, nil
}

func (s *Service) publish(ctx context.Context, table string, op realtime.Op, id, owner string) {
	if s.events != nil {
		s.events.Publish(ctx, table, op, id, owner)
	}
}
