package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kiosk-fleet/internal/metrics"
	"kiosk-fleet/internal/realtime"
	"kiosk-fleet/internal/repo"
)

var (
	// ErrInvalidCard rejects a card number that is not 16 digits or fails the Luhn check.
	ErrInvalidCard = errors.New("invalid card number")
	// ErrDeviceUnavailable rejects payment at a kiosk that is not online.
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// Store is the persistence surface the ledger needs.
type Store interface {
	ApplyLedger(ctx context.Context, req repo.LedgerRequest) (*repo.LedgerResult, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]repo.Transaction, error)
	ListRecentTransactions(ctx context.Context, limit int) ([]repo.Transaction, error)
	GetDevice(ctx context.Context, id string) (*repo.Device, error)
}

// Publisher receives change events after a mutation commits.
type Publisher interface {
	Publish(ctx context.Context, table string, op realtime.Op, id, ownerID string) realtime.Event
}

// Service exposes the balance operations of customers and admins.
type Service struct {
	store        Store
	events       Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	topUpDefault int64
	topUpMax     int64
}

// NewService wires the ledger service. topUpDefault is used when a top-up omits the amount;
// topUpMax caps a single customer top-up.
func NewService(store Store, events Publisher, metricsRegistry *metrics.Metrics, logger *slog.Logger, topUpDefault, topUpMax int64) *Service {
	return &Service{
		store:        store,
		events:       events,
		metrics:      metricsRegistry,
		logger:       logger.With("component", "ledger"),
		topUpDefault: topUpDefault,
		topUpMax:     topUpMax,
	}
}

// Apply runs one atomic ledger mutation and publishes the balance and transaction changes.
func (s *Service) Apply(ctx context.Context, req repo.LedgerRequest) (*repo.LedgerResult, error) {
	res, err := s.store.ApplyLedger(ctx, req)
	if err != nil {
		s.metrics.LedgerMutations.WithLabelValues(req.Method, outcome(err)).Inc()
		if !isExpected(err) {
			s.metrics.Errors.WithLabelValues("ledger").Inc()
			s.logger.Error("ledger mutation failed", "error", err, "profile_id", req.ProfileID, "method", req.Method)
		}
		return nil, err
	}
	s.metrics.LedgerMutations.WithLabelValues(req.Method, "applied").Inc()
	s.logger.Info("ledger mutation applied",
		"profile_id", req.ProfileID,
		"amount", req.Amount,
		"method", req.Method,
		"balance_after", res.Balance,
		"transaction_id", res.Transaction.ID,
	)
	if s.events != nil {
		s.events.Publish(ctx, realtime.TableProfiles, realtime.OpUpdate, req.ProfileID, req.ProfileID)
		s.events.Publish(ctx, realtime.TableTransactions, realtime.OpInsert, res.Transaction.ID, req.ProfileID)
	}
	return res, nil
}

// AdminAdjust credits or debits a customer on behalf of adminID.
func (s *Service) AdminAdjust(ctx context.Context, adminID, profileID string, amount int64) (*repo.LedgerResult, error) {
	return s.Apply(ctx, repo.LedgerRequest{
		ProfileID: profileID,
		Amount:    amount,
		Method:    repo.MethodAdminManual,
		AdminID:   &adminID,
	})
}

// TopUp credits the customer's wallet after validating the card number. The card is never stored.
func (s *Service) TopUp(ctx context.Context, profileID string, amount int64, cardNumber string) (*repo.LedgerResult, error) {
	if !ValidCard(cardNumber) {
		return nil, ErrInvalidCard
	}
	if amount == 0 {
		amount = s.topUpDefault
	}
	if amount < 0 || amount > s.topUpMax {
		return nil, repo.ErrInvalidAmount
	}
	return s.Apply(ctx, repo.LedgerRequest{
		ProfileID: profileID,
		Amount:    amount,
		Method:    repo.MethodCreditCard,
	})
}

// PaymentResult reports a kiosk payment. Ledger is nil when the kiosk is free to use.
type PaymentResult struct {
	Device  *repo.Device       `json:"device"`
	Charged int64              `json:"charged"`
	Ledger  *repo.LedgerResult `json:"ledger,omitempty"`
}

// KioskPayment debits the kiosk's price from the customer for one disinfection cycle.
func (s *Service) KioskPayment(ctx context.Context, profileID, deviceID string) (*PaymentResult, error) {
	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device.Status != repo.DeviceOnline {
		return nil, ErrDeviceUnavailable
	}
	if device.Price == 0 {
		return &PaymentResult{Device: device}, nil
	}
	res, err := s.Apply(ctx, repo.LedgerRequest{
		ProfileID: profileID,
		Amount:    -device.Price,
		Method:    repo.MethodQR,
		DeviceID:  &device.ID,
	})
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Device: device, Charged: device.Price, Ledger: res}, nil
}

// Transactions returns the wallet history of one customer.
func (s *Service) Transactions(ctx context.Context, profileID string, limit int) ([]repo.Transaction, error) {
	return s.store.ListTransactions(ctx, profileID, limit)
}

// RecentTransactions returns the newest ledger rows across all customers.
func (s *Service) RecentTransactions(ctx context.Context, limit int) ([]repo.Transaction, error) {
	return s.store.ListRecentTransactions(ctx, limit)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, repo.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	case errors.Is(err, repo.ErrInvalidAmount), errors.Is(err, repo.ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}

func isExpected(err error) bool {
	return outcome(err) != "error"
}
