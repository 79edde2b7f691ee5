package repo

import (
	"strings"
	"time"
)

// Role is the authorization role stored on a profile.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Profile represents the profiles table row.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Phone        *string   `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewProfile carries data used to create a profile.
type NewProfile struct {
	Email        string
	PasswordHash string
	FullName     string
	Phone        *string
	Role         Role
}

func (p NewProfile) validate() error {
	email := normalizeEmail(p.Email)
	if email == "" || !strings.Contains(email, "@") {
		return invalid("a valid email is required")
	}
	if p.PasswordHash == "" {
		return invalid("password hash is required")
	}
	switch p.Role {
	case "", RoleCustomer, RoleAdmin:
	default:
		return invalid("unknown role " + string(p.Role))
	}
	return nil
}

func (p NewProfile) roleOrDefault() Role {
	if p.Role == "" {
		return RoleCustomer
	}
	return p.Role
}

// DeviceStatus is the operational axis of a kiosk.
type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceMaintenance DeviceStatus = "maintenance"
)

// Valid reports whether s is a known device status.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceOnline, DeviceOffline, DeviceMaintenance:
		return true
	}
	return false
}

// OTAStatus is the firmware update axis of a kiosk, independent of DeviceStatus.
type OTAStatus string

const (
	OTAIdle        OTAStatus = "idle"
	OTAPending     OTAStatus = "pending"
	OTASuccess     OTAStatus = "success"
	OTAFailed      OTAStatus = "failed"
	OTAUnreachable OTAStatus = "unreachable"
)

// Device represents a kiosk row.
type Device struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Location        string       `json:"location"`
	Latitude        *float64     `json:"latitude,omitempty"`
	Longitude       *float64     `json:"longitude,omitempty"`
	Status          DeviceStatus `json:"status"`
	Price           int64        `json:"price"`
	FirmwareVersion string       `json:"firmware_version"`
	OTAStatus       OTAStatus    `json:"ota_status"`
	LastSeen        *time.Time   `json:"last_seen,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DeviceInput holds the admin-editable fields of a kiosk.
type DeviceInput struct {
	Name            string   `json:"name"`
	Location        string   `json:"location"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	Price           int64    `json:"price"`
	FirmwareVersion string   `json:"firmware_version"`
}

// Validate checks the invariants of a device write.
func (in DeviceInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("device name is required")
	}
	if in.Price < 0 {
		return invalid("device price must not be negative")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return invalid("latitude and longitude must be set together")
	}
	if in.Latitude != nil && (*in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180) {
		return invalid("coordinates out of range")
	}
	return nil
}

// TransactionType is derived from the sign of a ledger amount.
type TransactionType string

const (
	TransactionDeposit TransactionType = "deposit"
	TransactionPayment TransactionType = "payment"
)

// TypeForAmount returns the transaction type matching the sign of amount.
func TypeForAmount(amount int64) TransactionType {
	if amount > 0 {
		return TransactionDeposit
	}
	return TransactionPayment
}

// Payment method tags recorded on transactions.
const (
	MethodAdminManual = "admin_manual"
	MethodCreditCard  = "credit_card"
	MethodQR          = "qr"
)

// Transaction represents an immutable ledger row.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        int64           `json:"amount"`
	Type          TransactionType `json:"type"`
	BalanceAfter  int64           `json:"balance_after"`
	PaymentMethod string          `json:"payment_method"`
	AdminID       *string         `json:"admin_id,omitempty"`
	DeviceID      *string         `json:"device_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProfileName   string          `json:"profile_name,omitempty"`
}

// LedgerRequest is the input of the atomic balance mutation.
type LedgerRequest struct {
	ProfileID string
	Amount    int64
	Method    string
	AdminID   *string
	DeviceID  *string
}

// LedgerResult carries the post-mutation balance and the appended transaction.
type LedgerResult struct {
	Balance     int64       `json:"balance"`
	Transaction Transaction `json:"transaction"`
}

// TicketStatus is the support ticket state.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketClosed     TicketStatus = "closed"
)

// Ticket represents a support ticket row.
type Ticket struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Subject    string       `json:"subject"`
	Message    string       `json:"message"`
	Status     TicketStatus `json:"status"`
	AdminReply *string      `json:"admin_reply,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	OwnerName  string       `json:"owner_name,omitempty"`
	OwnerEmail string       `json:"owner_email,omitempty"`
}

// TicketReply is an append-only chat message on a ticket.
type TicketReply struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification represents a notifications row. UserID nil marks a broadcast.
type Notification struct {
	ID         string         `json:"id"`
	UserID     *string        `json:"user_id,omitempty"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	IsRead     bool           `json:"is_read"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	TargetName string         `json:"target_name,omitempty"`
}

// Broadcast reports whether the notification targets every recipient.
func (n Notification) Broadcast() bool {
	return n.UserID == nil
}

// NewNotification carries data used to create a notification.
type NewNotification struct {
	UserID   *string
	Title    string
	Message  string
	Type     string
	Metadata map[string]any
}

func (n NewNotification) validate() error {
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Message) == "" {
		return invalid("title and message are required")
	}
	return nil
}

func (n NewNotification) typeOrDefault() string {
	if t := strings.TrimSpace(n.Type); t != "" {
		return t
	}
	return "info"
}

// OTARelease represents a firmware release row.
type OTARelease struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	FirmwareURL string    `json:"firmware_url"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r OTARelease) validate() error {
	if strings.TrimSpace(r.Version) == "" {
		return invalid("release version is required")
	}
	if strings.TrimSpace(r.FirmwareURL) == "" {
		return invalid("firmware url is required")
	}
	return nil
}

// Command kinds and states written for devices.
const (
	CommandOTAUpdate     = "OTA_UPDATE"
	CommandStatusPending = "pending"
)

// Command is a device-addressed instruction row.
type Command struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	Command      string    `json:"command"`
	Payload      string    `json:"payload"`
	OTAReleaseID *string   `json:"ota_release_id,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeployRequest selects a release and its target devices.
type DeployRequest struct {
	ReleaseID string
	All       bool
	DeviceIDs []string
	ActorID   *string
}

// Deployment is the audit row written by a successful dispatch.
type Deployment struct {
	ID          string    `json:"id"`
	ReleaseID   string    `json:"release_id"`
	TargetMode  string    `json:"target_mode"`
	DeviceIDs   []string  `json:"device_ids,omitempty"`
	DeviceCount int       `json:"device_count"`
	Status      string    `json:"status"`
	CreatedBy   *string   `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Deployment target modes.
const (
	TargetAll      = "all"
	TargetSelected = "selected"
)
