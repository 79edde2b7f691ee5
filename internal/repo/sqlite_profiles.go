package repo

import (
	"context"
	"fmt"
	"strings"
)

func (r *SQLiteRepository) CreateProfile(ctx context.Context, profile NewProfile) (*Profile, error) {
	if err := profile.validate(); err != nil {
		return nil, err
	}
	now := sqliteNow()
	q := `
INSERT INTO profiles (id, email, password_hash, full_name, phone, role, balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
RETURNING ` + profileColumns + `;
`
	p, err := scanProfile(r.db.QueryRowContext(ctx, q,
		newID(),
		normalizeEmail(profile.Email),
		profile.PasswordHash,
		strings.TrimSpace(profile.FullName),
		profile.Phone,
		string(profile.roleOrDefault()),
		now, now,
	))
	if err != nil {
		return nil, sqliteError("create profile", err)
	}
	return p, nil
}

func (r *SQLiteRepository) EnsureAdmin(ctx context.Context, profile NewProfile) (*Profile, error) {
	if err := profile.validate(); err != nil {
		return nil, err
	}
	now := sqliteNow()
	q := `
INSERT INTO profiles (id, email, password_hash, full_name, phone, role, balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'admin', 0, ?, ?)
ON CONFLICT (email) DO UPDATE SET
    role = 'admin',
    updated_at = excluded.updated_at
RETURNING ` + profileColumns + `;
`
	p, err := scanProfile(r.db.QueryRowContext(ctx, q,
		newID(),
		normalizeEmail(profile.Email),
		profile.PasswordHash,
		strings.TrimSpace(profile.FullName),
		profile.Phone,
		now, now,
	))
	if err != nil {
		return nil, sqliteError("ensure admin", err)
	}
	return p, nil
}

func (r *SQLiteRepository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ? LIMIT 1;`
	p, err := scanProfile(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteError("get profile", err)
	}
	return p, nil
}

func (r *SQLiteRepository) GetProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE email = ? LIMIT 1;`
	p, err := scanProfile(r.db.QueryRowContext(ctx, q, normalizeEmail(email)))
	if err != nil {
		return nil, sqliteError("get profile by email", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListProfiles(ctx context.Context) ([]Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at DESC, rowid DESC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, sqliteError("list profiles", err)
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

func (r *SQLiteRepository) UpdateProfile(ctx context.Context, id, fullName string, phone *string) (*Profile, error) {
	q := `
UPDATE profiles SET full_name = ?, phone = ?, updated_at = ?
WHERE id = ?
RETURNING ` + profileColumns + `;
`
	p, err := scanProfile(r.db.QueryRowContext(ctx, q, strings.TrimSpace(fullName), phone, sqliteNow(), id))
	if err != nil {
		return nil, sqliteError("update profile", err)
	}
	return p, nil
}
