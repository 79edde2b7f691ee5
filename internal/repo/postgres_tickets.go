package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CreateTicket opens a support ticket for userID.
func (r *PostgresRepository) CreateTicket(ctx context.Context, userID, subject, message string) (*Ticket, error) {
	subject, message = strings.TrimSpace(subject), strings.TrimSpace(message)
	if subject == "" || message == "" {
		return nil, invalid("subject and message are required")
	}
	q := `
INSERT INTO tickets (user_id, subject, message, status)
VALUES ($1, $2, $3, 'open')
RETURNING ` + ticketColumns + `;
`
	t, err := scanTicket(r.pool.QueryRow(ctx, q, userID, subject, message))
	if err != nil {
		return nil, pgError("create ticket", err)
	}
	return t, nil
}

// GetTicket fetches a ticket together with its owner's name and email.
func (r *PostgresRepository) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	q := `
SELECT ` + prefixed("t", ticketColumns) + `, p.full_name, p.email
FROM tickets t
JOIN profiles p ON p.id = t.user_id
WHERE t.id = $1
LIMIT 1;
`
	var name, email string
	t, err := scanTicket(r.pool.QueryRow(ctx, q, id), &name, &email)
	if err != nil {
		return nil, pgError("get ticket", err)
	}
	t.OwnerName, t.OwnerEmail = name, email
	return t, nil
}

// ListTickets returns tickets newest first. An empty userID lists every ticket.
func (r *PostgresRepository) ListTickets(ctx context.Context, userID string) ([]Ticket, error) {
	q := `
SELECT ` + prefixed("t", ticketColumns) + `, p.full_name, p.email
FROM tickets t
JOIN profiles p ON p.id = t.user_id
WHERE ($1 = '' OR t.user_id::text = $1)
ORDER BY t.created_at DESC;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, pgError("list tickets", err)
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

// ListReplies returns the chat replies of a ticket in creation order.
func (r *PostgresRepository) ListReplies(ctx context.Context, ticketID string) ([]TicketReply, error) {
	q := `SELECT ` + replyColumns + ` FROM ticket_replies WHERE ticket_id = $1 ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, q, ticketID)
	if err != nil {
		return nil, pgError("list replies", err)
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

// AddReply appends a customer message. Closed tickets reject replies.
func (r *PostgresRepository) AddReply(ctx context.Context, ticketID, userID, message string) (*TicketReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalid("message is required")
	}

	var reply *TicketReply
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1 FOR UPDATE`, ticketID).Scan(&status); err != nil {
			return err
		}
		if TicketStatus(status) == TicketClosed {
			return ErrTicketClosed
		}
		var err error
		reply, err = scanReply(tx.QueryRow(ctx, `
INSERT INTO ticket_replies (ticket_id, user_id, message, is_admin)
VALUES ($1, $2, $3, FALSE)
RETURNING `+replyColumns, ticketID, userID, message))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE tickets SET updated_at = NOW() WHERE id = $1`, ticketID)
		return err
	})
	if err != nil {
		return nil, pgError("add reply", err)
	}
	return reply, nil
}

// AdminReplyTicket records an admin reply through admin_reply_ticket, which also notifies the owner.
func (r *PostgresRepository) AdminReplyTicket(ctx context.Context, ticketID, adminID, message string) (*TicketReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalid("message is required")
	}
	reply := TicketReply{TicketID: ticketID, UserID: adminID, Message: message, IsAdmin: true}
	err := r.pool.QueryRow(ctx,
		`SELECT out_reply_id, out_created_at FROM admin_reply_ticket($1::uuid, $2::uuid, $3)`,
		ticketID, adminID, message).Scan(&reply.ID, &reply.CreatedAt)
	if err != nil {
		return nil, pgError("admin reply ticket", err)
	}
	return &reply, nil
}

// ResolveTicket closes a ticket. Closing an already closed ticket is a no-op.
func (r *PostgresRepository) ResolveTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	q := `
UPDATE tickets
SET status = 'closed',
    updated_at = CASE WHEN status = 'closed' THEN updated_at ELSE NOW() END
WHERE id = $1
RETURNING ` + ticketColumns + `;
`
	t, err := scanTicket(r.pool.QueryRow(ctx, q, ticketID))
	if err != nil {
		return nil, pgError("resolve ticket", err)
	}
	return t, nil
}
