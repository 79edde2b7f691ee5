package repo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const (
	profileColumns      = `id, email, password_hash, full_name, phone, role, balance, created_at, updated_at`
	deviceColumns       = `id, name, location, latitude, longitude, status, price, firmware_version, ota_status, last_seen, created_at, updated_at`
	transactionColumns  = `id, user_id, amount, type, balance_after, payment_method, admin_id, device_id, created_at`
	ticketColumns       = `id, user_id, subject, message, status, admin_reply, created_at, updated_at`
	replyColumns        = `id, ticket_id, user_id, message, is_admin, created_at`
	notificationColumns = `id, user_id, title, message, type, is_read, metadata, created_at`
	releaseColumns      = `id, version, description, firmware_url, is_active, created_at`
	commandColumns      = `id, device_id, command, payload, ota_release_id, status, created_at`
	deploymentColumns   = `id, release_id, target_mode, device_ids, device_count, status, created_by, created_at`
)

// prefixed qualifies every column in a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.FullName, &p.Phone, &p.Role, &p.Balance, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	if err := row.Scan(&d.ID, &d.Name, &d.Location, &d.Latitude, &d.Longitude, &d.Status, &d.Price, &d.FirmwareVersion, &d.OTAStatus, &d.LastSeen, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanTransaction(row rowScanner, extra ...any) (*Transaction, error) {
	var t Transaction
	dest := []any{&t.ID, &t.UserID, &t.Amount, &t.Type, &t.BalanceAfter, &t.PaymentMethod, &t.AdminID, &t.DeviceID, &t.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTicket(row rowScanner, extra ...any) (*Ticket, error) {
	var t Ticket
	dest := []any{&t.ID, &t.UserID, &t.Subject, &t.Message, &t.Status, &t.AdminReply, &t.CreatedAt, &t.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanReply(row rowScanner) (*TicketReply, error) {
	var r TicketReply
	if err := row.Scan(&r.ID, &r.TicketID, &r.UserID, &r.Message, &r.IsAdmin, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanNotification(row rowScanner, extra ...any) (*Notification, error) {
	var n Notification
	var metaJSON []byte
	dest := []any{&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsRead, &metaJSON, &n.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	n.Metadata = fromJSON(metaJSON)
	return &n, nil
}

func scanRelease(row rowScanner) (*OTARelease, error) {
	var r OTARelease
	if err := row.Scan(&r.ID, &r.Version, &r.Description, &r.FirmwareURL, &r.IsActive, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanCommand(row rowScanner) (*Command, error) {
	var c Command
	if err := row.Scan(&c.ID, &c.DeviceID, &c.Command, &c.Payload, &c.OTAReleaseID, &c.Status, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanDeployment(row rowScanner) (*Deployment, error) {
	var d Deployment
	var ids string
	if err := row.Scan(&d.ID, &d.ReleaseID, &d.TargetMode, &ids, &d.DeviceCount, &d.Status, &d.CreatedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	if ids != "" {
		if err := json.Unmarshal([]byte(ids), &d.DeviceIDs); err != nil {
			return nil, fmt.Errorf("decode deployment device ids: %w", err)
		}
	}
	return &d, nil
}

func toJSON(val map[string]any) ([]byte, error) {
	if val == nil {
		return nil, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func fromJSON(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"_raw": string(data)}
	}
	return m
}

func jsonParam(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}

// normalizeEmail lower-cases and trims an address before storage or lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// uniqueIDs trims and de-duplicates ids while keeping their first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}
