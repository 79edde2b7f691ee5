package repo

import (
	"context"
	"fmt"
	"strings"
)

// CreateProfile inserts a new account. Email addresses are unique case-insensitively.
func (r *PostgresRepository) CreateProfile(ctx context.Context, profile NewProfile) (*Profile, error) {
	if err := profile.validate(); err != nil {
		return nil, err
	}
	q := `
INSERT INTO profiles (email, password_hash, full_name, phone, role)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + profileColumns + `;
`
	p, err := scanProfile(r.pool.QueryRow(ctx, q,
		normalizeEmail(profile.Email),
		profile.PasswordHash,
		strings.TrimSpace(profile.FullName),
		profile.Phone,
		string(profile.roleOrDefault()),
	))
	if err != nil {
		return nil, pgError("create profile", err)
	}
	return p, nil
}

// EnsureAdmin creates the profile as an admin, or promotes the existing profile with that email.
func (r *PostgresRepository) EnsureAdmin(ctx context.Context, profile NewProfile) (*Profile, error) {
	if err := profile.validate(); err != nil {
		return nil, err
	}
	q := `
INSERT INTO profiles (email, password_hash, full_name, phone, role)
VALUES ($1, $2, $3, $4, 'admin')
ON CONFLICT (email) DO UPDATE SET
    role = 'admin',
    updated_at = NOW()
RETURNING ` + profileColumns + `;
`
	p, err := scanProfile(r.pool.QueryRow(ctx, q,
		normalizeEmail(profile.Email),
		profile.PasswordHash,
		strings.TrimSpace(profile.FullName),
		profile.Phone,
	))
	if err != nil {
		return nil, pgError("ensure admin", err)
	}
	return p, nil
}

// GetProfile fetches a profile by id.
func (r *PostgresRepository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1 LIMIT 1;`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgError("get profile", err)
	}
	return p, nil
}

// GetProfileByEmail fetches a profile by normalized email.
func (r *PostgresRepository) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE email = $1 LIMIT 1;`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, normalizeEmail(email)))
	if err != nil {
		return nil, pgError("get profile by email", err)
	}
	return p, nil
}

// ListProfiles returns every profile, newest first.
func (r *PostgresRepository) ListProfiles(ctx context.Context) ([]Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, pgError("list profiles", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}

// UpdateProfile changes the self-editable fields of a profile.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id, fullName string, phone *string) (*Profile, error) {
	q := `
UPDATE profiles SET full_name = $2, phone = $3, updated_at = NOW()
WHERE id = $1
RETURNING ` + profileColumns + `;
`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, id, strings.TrimSpace(fullName), phone))
	if err != nil {
		return nil, pgError("update profile", err)
	}
	return p, nil
}
