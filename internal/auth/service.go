package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kiosk-fleet/internal/repo"
)

var (
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPassword rejects passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password too short")
)

// ProfileStore is the subset of the repository used for identity.
type ProfileStore interface {
	CreateProfile(ctx context.Context, profile repo.NewProfile) (*repo.Profile, error)
	EnsureAdmin(ctx context.Context, profile repo.NewProfile) (*repo.Profile, error)
	GetProfile(ctx context.Context, id string) (*repo.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*repo.Profile, error)
}

// Session is returned by a successful sign-in or sign-up.
type Session struct {
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Profile     *repo.Profile `json:"profile"`
}

// Service implements sign-up, sign-in and role lookups.
type Service struct {
	profiles      ProfileStore
	issuer        *Issuer
	logger        *slog.Logger
	checkPassword func(hash, password string) error
}

// NewService wires the identity service.
func NewService(profiles ProfileStore, issuer *Issuer, logger *slog.Logger) *Service {
	return &Service{
		profiles:      profiles,
		issuer:        issuer,
		logger:        logger.With("component", "auth"),
		checkPassword: CheckPassword,
	}
}

// SignUp creates a customer profile with a zero balance and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password, fullName string, phone *string) (*Session, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if phone != nil && strings.TrimSpace(*phone) == "" {
		phone = nil
	}
	profile, err := s.profiles.CreateProfile(ctx, repo.NewProfile{
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Phone:        phone,
		Role:         repo.RoleCustomer,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("profile signed up", "profile_id", profile.ID)
	return s.session(profile)
}

// SignIn verifies credentials and issues a token carrying the role stored on the profile.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	profile, err := s.profiles.GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			_ = s.checkPassword(unknownAccountHash(), password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.checkPassword(profile.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(profile)
}

// Profile loads the current profile row; roles are always taken from here, never from the token alone.
func (s *Service) Profile(ctx context.Context, id string) (*repo.Profile, error) {
	return s.profiles.GetProfile(ctx, id)
}

// EnsureBootstrapAdmin creates or promotes the configured admin account.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, email, password string) (*repo.Profile, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	profile, err := s.profiles.EnsureAdmin(ctx, repo.NewProfile{
		Email:        email,
		PasswordHash: hash,
		FullName:     "Administrator",
		Role:         repo.RoleAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bootstrap admin: %w", err)
	}
	s.logger.Info("bootstrap admin ensured", "profile_id", profile.ID)
	return profile, nil
}

// Issuer exposes the token issuer for middleware wiring.
func (s *Service) Issuer() *Issuer {
	return s.issuer
}

func (s *Service) session(profile *repo.Profile) (*Session, error) {
	token, expires, err := s.issuer.Issue(profile)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: token, ExpiresAt: expires, Profile: profile}, nil
}
