package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
)

// Store is the persistence surface of notifications.
type Store interface {
	GetProfile(ctx context.Context, id string) (*repo.Profile, error)
	CreateNotification(ctx context.Context, n repo.NewNotification) (*repo.Notification, error)
	ListNotificationsFor(ctx context.Context, userID string) ([]repo.Notification, error)
	ListReadBroadcastIDs(ctx context.Context, userID string) ([]string, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	ListSentNotifications(ctx context.Context, limit int) ([]repo.Notification, error)
}

// Messenger delivers a text message to a phone number outside the app.
type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
}

// Publisher receives change events after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, table string, op realtime.Op, id, ownerID string) realtime.Event
}

// Feed is the reconciled notification list of one recipient.
type Feed struct {
	Items  []repo.Notification `json:"items"`
	Unread int                 `json:"unread"`
}

// Service sends notifications and tracks per-recipient read state.
type Service struct {
	store     Store
	messenger Messenger
	events    Publisher
	logger    *slog.Logger
}

// NewService wires the notification service. messenger may be nil when WhatsApp delivery is disabled.
func NewService(store Store, messenger Messenger, events Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		messenger: messenger,
		events:    events,
		logger:    logger.With("component", "notify"),
	}
}

// Send creates a broadcast when targetID is empty, otherwise a notification for that profile.
// Targeted notifications are also pushed over WhatsApp when a messenger is configured.
func (s *Service) Send(ctx context.Context, title, message, kind, targetID string) (*repo.Notification, error) {
	var target *repo.Profile
	if targetID != "" {
		p, err := s.store.GetProfile(ctx, targetID)
		if err != nil {
			return nil, fmt.Errorf("load recipient: %w", err)
		}
		target = p
	}

	in := repo.NewNotification{Title: title, Message: message, Type: kind}
	if target != nil {
		in.UserID = &target.ID
	}
	n, err := s.store.CreateNotification(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("notification sent", "notification_id", n.ID, "broadcast", n.Broadcast(), "type", n.Type)
	if s.events != nil {
		s.events.Publish(ctx, realtime.TableNotifications, realtime.OpInsert, n.ID, targetID)
	}

	if target != nil && s.messenger != nil && target.Phone != nil && strings.TrimSpace(*target.Phone) != "" {
		text := fmt.Sprintf("*%s*\n%s", n.Title, n.Message)
		if err := s.messenger.SendText(ctx, *target.Phone, text); err != nil {
			s.logger.Warn("whatsapp delivery failed", "error", err, "notification_id", n.ID, "profile_id", target.ID)
		}
	}
	return n, nil
}

// Feed returns the recipient's scoped notifications and all broadcasts with effective read flags.
func (s *Service) Feed(ctx context.Context, recipientID string) (*Feed, error) {
	rows, err := s.store.ListNotificationsFor(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	read, err := s.store.ListReadBroadcastIDs(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	items := BuildFeed(rows, read)
	return &Feed{Items: items, Unread: UnreadCount(items)}, nil
}

// MarkRead marks one notification read for the recipient. Repeating it is a no-op.
func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	if err := s.store.MarkNotificationRead(ctx, recipientID, notificationID); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Publish(ctx, realtime.TableNotifications, realtime.OpUpdate, notificationID, recipientID)
	}
	return nil
}

// MarkAllRead marks every scoped notification and every broadcast read for the recipient.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) error {
	if err := s.store.MarkAllNotificationsRead(ctx, recipientID); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Publish(ctx, realtime.TableNotifications, realtime.OpUpdate, "", recipientID)
	}
	return nil
}

func (s *Service) ListSent(ctx context.Context, limit int) ([]repo.Notification, error) {
	return s.store.ListSentNotifications(ctx, limit)
}
