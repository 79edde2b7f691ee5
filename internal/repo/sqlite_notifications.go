package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func (r *SQLiteRepository) CreateNotification(ctx context.Context, n NewNotification) (*Notification, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	meta, err := toJSON(n.Metadata)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO notifications (id, user_id, title, message, type, is_read, metadata, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?)
RETURNING ` + notificationColumns + `;
`
	out, err := scanNotification(r.db.QueryRowContext(ctx, q,
		newID(), n.UserID, strings.TrimSpace(n.Title), strings.TrimSpace(n.Message), n.typeOrDefault(), jsonParam(meta), sqliteNow()))
	if err != nil {
		return nil, sqliteError("create notification", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetNotification(ctx context.Context, id string) (*Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ? LIMIT 1;`
	n, err := scanNotification(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteError("get notification", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ListNotificationsFor(ctx context.Context, userID string) ([]Notification, error) {
	q := `
SELECT ` + notificationColumns + `
FROM notifications
WHERE user_id = ? OR user_id IS NULL
ORDER BY created_at DESC, rowid DESC;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, sqliteError("list notifications", err)
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

func (r *SQLiteRepository) ListReadBroadcastIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT notification_id FROM notification_reads WHERE user_id = ?`, userID)
	if err != nil {
		return nil, sqliteError("list notification reads", err)
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

func (r *SQLiteRepository) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var owner *string
		if err := tx.QueryRowContext(ctx, `SELECT user_id FROM notifications WHERE id = ?`, notificationID).Scan(&owner); err != nil {
			return err
		}
		if owner == nil {
			_, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO notification_reads (user_id, notification_id, read_at)
VALUES (?, ?, ?)`, userID, notificationID, sqliteNow())
			return err
		}
		if *owner != userID {
			return ErrNotFound
		}
		_, err := tx.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, notificationID)
		return err
	})
	if err != nil {
		return sqliteError("mark notification read", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO notification_reads (user_id, notification_id, read_at)
SELECT ?, id, ? FROM notifications WHERE user_id IS NULL`, userID, sqliteNow())
		return err
	})
	if err != nil {
		return sqliteError("mark all notifications read", err)
	}
	return nil
}

func (r *SQLiteRepository) ListSentNotifications(ctx context.Context, limit int) ([]Notification, error) {
	q := `
SELECT ` + prefixed("n", notificationColumns) + `, COALESCE(p.full_name, '')
FROM notifications n
LEFT JOIN profiles p ON p.id = n.user_id
ORDER BY n.created_at DESC, n.rowid DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, clampLimit(limit, 100))
	if err != nil {
		return nil, sqliteError("list sent notifications", err)
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
