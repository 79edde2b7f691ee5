package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CreateNotification stores a scoped notification, or a broadcast when UserID is nil.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n NewNotification) (*Notification, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	meta, err := toJSON(n.Metadata)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO notifications (user_id, title, message, type, metadata)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + notificationColumns + `;
`
	out, err := scanNotification(r.pool.QueryRow(ctx, q, n.UserID, strings.TrimSpace(n.Title), strings.TrimSpace(n.Message), n.typeOrDefault(), jsonParam(meta)))
	if err != nil {
		return nil, pgError("create notification", err)
	}
	return out, nil
}

// GetNotification fetches a notification by id.
func (r *PostgresRepository) GetNotification(ctx context.Context, id string) (*Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 LIMIT 1;`
	n, err := scanNotification(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgError("get notification", err)
	}
	return n, nil
}

// ListNotificationsFor returns the user's scoped notifications plus every broadcast, newest first.
// Broadcast rows carry the shared is_read column; callers reconcile it with ListReadBroadcastIDs.
func (r *PostgresRepository) ListNotificationsFor(ctx context.Context, userID string) ([]Notification, error) {
	q := `
SELECT ` + notificationColumns + `
FROM notifications
WHERE user_id = $1 OR user_id IS NULL
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, pgError("list notifications", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// ListReadBroadcastIDs returns the broadcast ids userID has marked as read.
func (r *PostgresRepository) ListReadBroadcastIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT notification_id FROM notification_reads WHERE user_id = $1`, userID)
	if err != nil {
		return nil, pgError("list notification reads", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan notification read: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification reads: %w", err)
	}
	return ids, nil
}

// MarkNotificationRead marks one notification read for userID. Scoped rows flip is_read;
// broadcasts get a per-user read row and the shared row is left untouched.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var owner *string
		if err := tx.QueryRow(ctx, `SELECT user_id FROM notifications WHERE id = $1`, notificationID).Scan(&owner); err != nil {
			return err
		}
		if owner == nil {
			_, err := tx.Exec(ctx, `
INSERT INTO notification_reads (user_id, notification_id)
VALUES ($1, $2)
ON CONFLICT (user_id, notification_id) DO NOTHING`, userID, notificationID)
			return err
		}
		if *owner != userID {
			return ErrNotFound
		}
		_, err := tx.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, notificationID)
		return err
	})
	if err != nil {
		return pgError("mark notification read", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every scoped notification and every broadcast read for userID.
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
INSERT INTO notification_reads (user_id, notification_id)
SELECT $1::uuid, id FROM notifications WHERE user_id IS NULL
ON CONFLICT (user_id, notification_id) DO NOTHING`, userID)
		return err
	})
	if err != nil {
		return pgError("mark all notifications read", err)
	}
	return nil
}

// ListSentNotifications returns the newest notifications with the recipient's name for the admin log.
func (r *PostgresRepository) ListSentNotifications(ctx context.Context, limit int) ([]Notification, error) {
	q := `
SELECT ` + prefixed("n", notificationColumns) + `, COALESCE(p.full_name, '')
FROM notifications n
LEFT JOIN profiles p ON p.id = n.user_id
ORDER BY n.created_at DESC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, q, clampLimit(limit, 100))
	if err != nil {
		return nil, pgError("list sent notifications", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var name string
		n, err := scanNotification(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.TargetName = name
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
