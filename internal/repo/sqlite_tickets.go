package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func (r *SQLiteRepository) CreateTicket(ctx context.Context, userID, subject, message string) (*Ticket, error) {
	subject, message = strings.TrimSpace(subject), strings.TrimSpace(message)
	if subject == "" || message == "" {
		return nil, invalid("subject and message are required")
	}
	now := sqliteNow()
	q := `
INSERT INTO tickets (id, user_id, subject, message, status, created_at, updated_at)
VALUES (?, ?, ?, ?, 'open', ?, ?)
RETURNING ` + ticketColumns + `;
`
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, newID(), userID, subject, message, now, now))
	if err != nil {
		return nil, sqliteError("create ticket", err)
	}
	return t, nil
}

func (r *SQLiteRepository) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	q := `
SELECT ` + prefixed("t", ticketColumns) + `, p.full_name, p.email
FROM tickets t
JOIN profiles p ON p.id = t.user_id
WHERE t.id = ?
LIMIT 1;
`
	var name, email string
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, id), &name, &email)
	if err != nil {
		return nil, sqliteError("get ticket", err)
	}
	t.OwnerName, t.OwnerEmail = name, email
	return t, nil
}

func (r *SQLiteRepository) ListTickets(ctx context.Context, userID string) ([]Ticket, error) {
	q := `
SELECT ` + prefixed("t", ticketColumns) + `, p.full_name, p.email
FROM tickets t
JOIN profiles p ON p.id = t.user_id`
	var args []any
	if userID != "" {
		q += ` WHERE t.user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY t.created_at DESC, t.rowid DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sqliteError("list tickets", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		var name, email string
		t, err := scanTicket(rows, &name, &email)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.OwnerName, t.OwnerEmail = name, email
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListReplies(ctx context.Context, ticketID string) ([]TicketReply, error) {
	q := `SELECT ` + replyColumns + ` FROM ticket_replies WHERE ticket_id = ? ORDER BY created_at ASC, rowid ASC;`
	rows, err := r.db.QueryContext(ctx, q, ticketID)
	if err != nil {
		return nil, sqliteError("list replies", err)
	}
	defer rows.Close()

	var out []TicketReply
	for rows.Next() {
		reply, err := scanReply(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		out = append(out, *reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) AddReply(ctx context.Context, ticketID, userID, message string) (*TicketReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalid("message is required")
	}

	var reply *TicketReply
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, _, err := lockOpenTicket(ctx, tx, ticketID); err != nil {
			return err
		}
		now := sqliteNow()
		var err error
		reply, err = scanReply(tx.QueryRowContext(ctx, `
INSERT INTO ticket_replies (id, ticket_id, user_id, message, is_admin, created_at)
VALUES (?, ?, ?, ?, 0, ?)
RETURNING `+replyColumns, newID(), ticketID, userID, message, now))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE tickets SET updated_at = ? WHERE id = ?`, now, ticketID)
		return err
	})
	if err != nil {
		return nil, sqliteError("add reply", err)
	}
	return reply, nil
}

// AdminReplyTicket mirrors the admin_reply_ticket procedure.
func (r *SQLiteRepository) AdminReplyTicket(ctx context.Context, ticketID, adminID, message string) (*TicketReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalid("message is required")
	}

	var reply *TicketReply
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		owner, subject, err := lockOpenTicket(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		now := sqliteNow()
		if _, err := tx.ExecContext(ctx, `
UPDATE tickets
SET admin_reply = ?,
    status = CASE WHEN status = 'open' THEN 'in_progress' ELSE status END,
    updated_at = ?
WHERE id = ?`, message, now, ticketID); err != nil {
			return err
		}

		meta, err := toJSON(map[string]any{"ticket_id": ticketID})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO notifications (id, user_id, title, message, type, is_read, metadata, created_at)
VALUES (?, ?, ?, ?, 'support', 0, ?, ?)`,
			newID(), owner, "Support reply: "+subject, message, jsonParam(meta), now); err != nil {
			return err
		}

		reply, err = scanReply(tx.QueryRowContext(ctx, `
INSERT INTO ticket_replies (id, ticket_id, user_id, message, is_admin, created_at)
VALUES (?, ?, ?, ?, 1, ?)
RETURNING `+replyColumns, newID(), ticketID, adminID, message, now))
		return err
	})
	if err != nil {
		return nil, sqliteError("admin reply ticket", err)
	}
	return reply, nil
}

func (r *SQLiteRepository) ResolveTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	q := `
UPDATE tickets
SET status = 'closed',
    updated_at = CASE WHEN status = 'closed' THEN updated_at ELSE ? END
WHERE id = ?
RETURNING ` + ticketColumns + `;
`
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, sqliteNow(), ticketID))
	if err != nil {
		return nil, sqliteError("resolve ticket", err)
	}
	return t, nil
}

// lockOpenTicket loads the ticket owner and subject, rejecting closed tickets.
func lockOpenTicket(ctx context.Context, tx *sql.Tx, ticketID string) (owner, subject string, err error) {
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status, user_id, subject FROM tickets WHERE id = ?`, ticketID).
		Scan(&status, &owner, &subject)
	if err != nil {
		return "", "", err
	}
	if TicketStatus(status) == TicketClosed {
		return "", "", ErrTicketClosed
	}
	return owner, subject, nil
}
