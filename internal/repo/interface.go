package repo

import (
	"context"
	"io/fs"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Profiles
	CreateProfile(ctx context.Context, profile NewProfile) (*Profile, error)
	EnsureAdmin(ctx context.Context, profile NewProfile) (*Profile, error)
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	UpdateProfile(ctx context.Context, id, fullName string, phone *string) (*Profile, error)

	// Ledger
	ApplyLedger(ctx context.Context, req LedgerRequest) (*LedgerResult, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	ListRecentTransactions(ctx context.Context, limit int) ([]Transaction, error)

	// Devices
	CreateDevice(ctx context.Context, in DeviceInput) (*Device, error)
	UpdateDevice(ctx context.Context, id string, in DeviceInput) (*Device, error)
	DeleteDevice(ctx context.Context, id string) error
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
	SetDeviceStatus(ctx context.Context, id string, status DeviceStatus) (*Device, error)
	BulkUpdatePrices(ctx context.Context, mode PriceMode, value float64) ([]Device, error)

	// OTA
	CreateRelease(ctx context.Context, release OTARelease) (*OTARelease, error)
	GetRelease(ctx context.Context, id string) (*OTARelease, error)
	ListReleases(ctx context.Context) ([]OTARelease, error)
	DeployRelease(ctx context.Context, req DeployRequest) (*Deployment, error)
	ListCommands(ctx context.Context, deviceID string, limit int) ([]Command, error)
	ListDeployments(ctx context.Context, limit int) ([]Deployment, error)

	// Tickets
	CreateTicket(ctx context.Context, userID, subject, message string) (*Ticket, error)
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	ListTickets(ctx context.Context, userID string) ([]Ticket, error)
	ListReplies(ctx context.Context, ticketID string) ([]TicketReply, error)
	AddReply(ctx context.Context, ticketID, userID, message string) (*TicketReply, error)
	AdminReplyTicket(ctx context.Context, ticketID, adminID, message string) (*TicketReply, error)
	ResolveTicket(ctx context.Context, ticketID string) (*Ticket, error)

	// Notifications
	CreateNotification(ctx context.Context, n NewNotification) (*Notification, error)
	GetNotification(ctx context.Context, id string) (*Notification, error)
	ListNotificationsFor(ctx context.Context, userID string) ([]Notification, error)
	ListReadBroadcastIDs(ctx context.Context, userID string) ([]string, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	ListSentNotifications(ctx context.Context, limit int) ([]Notification, error)
}
