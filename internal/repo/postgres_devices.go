package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CreateDevice registers a kiosk. New kiosks start online with an idle OTA state.
func (r *PostgresRepository) CreateDevice(ctx context.Context, in DeviceInput) (*Device, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	q := `
INSERT INTO devices (name, location, latitude, longitude, price, firmware_version)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + deviceColumns + `;
`
	d, err := scanDevice(r.pool.QueryRow(ctx, q,
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Location), in.Latitude, in.Longitude, in.Price, in.FirmwareVersion))
	if err != nil {
		return nil, pgError("create device", err)
	}
	return d, nil
}

// UpdateDevice replaces the admin-editable fields of a kiosk.
func (r *PostgresRepository) UpdateDevice(ctx context.Context, id string, in DeviceInput) (*Device, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	q := `
UPDATE devices
SET name = $2, location = $3, latitude = $4, longitude = $5, price = $6, firmware_version = $7, updated_at = NOW()
WHERE id = $1
RETURNING ` + deviceColumns + `;
`
	d, err := scanDevice(r.pool.QueryRow(ctx, q,
		id, strings.TrimSpace(in.Name), strings.TrimSpace(in.Location), in.Latitude, in.Longitude, in.Price, in.FirmwareVersion))
	if err != nil {
		return nil, pgError("update device", err)
	}
	return d, nil
}

// DeleteDevice removes a kiosk and its pending commands.
func (r *PostgresRepository) DeleteDevice(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return pgError("delete device", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delete device %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetDevice fetches a kiosk by id.
func (r *PostgresRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1 LIMIT 1;`
	d, err := scanDevice(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgError("get device", err)
	}
	return d, nil
}

// ListDevices returns the fleet ordered by name.
func (r *PostgresRepository) ListDevices(ctx context.Context) ([]Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name ASC, created_at ASC;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, pgError("list devices", err)
	}
	defer rows.Close()
	return collectDevices(rows)
}

// SetDeviceStatus changes the operational status. Going online refreshes last_seen.
func (r *PostgresRepository) SetDeviceStatus(ctx context.Context, id string, status DeviceStatus) (*Device, error) {
	if !status.Valid() {
		return nil, invalid("unknown device status " + string(status))
	}
	q := `
UPDATE devices
SET status = $2,
    last_seen = CASE WHEN $2 = 'online' THEN NOW() ELSE last_seen END,
    updated_at = NOW()
WHERE id = $1
RETURNING ` + deviceColumns + `;
`
	d, err := scanDevice(r.pool.QueryRow(ctx, q, id, string(status)))
	if err != nil {
		return nil, pgError("set device status", err)
	}
	return d, nil
}

// BulkUpdatePrices rewrites every kiosk price in one transaction.
func (r *PostgresRepository) BulkUpdatePrices(ctx context.Context, mode PriceMode, value float64) ([]Device, error) {
	if _, err := ApplyPriceChange(mode, 0, value); err != nil {
		return nil, err
	}

	var out []Device
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, price FROM devices ORDER BY name ASC FOR UPDATE`)
		if err != nil {
			return err
		}
		type priced struct {
			id    string
			price int64
		}
		var current []priced
		for rows.Next() {
			var p priced
			if err := rows.Scan(&p.id, &p.price); err != nil {
				rows.Close()
				return fmt.Errorf("scan device price: %w", err)
			}
			current = append(current, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		q := `UPDATE devices SET price = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + deviceColumns
		for _, p := range current {
			next, err := ApplyPriceChange(mode, p.price, value)
			if err != nil {
				return err
			}
			d, err := scanDevice(tx.QueryRow(ctx, q, p.id, next))
			if err != nil {
				return err
			}
			out = append(out, *d)
		}
		return nil
	})
	if err != nil {
		return nil, pgError("bulk update prices", err)
	}
	return out, nil
}

func collectDevices(rows pgx.Rows) ([]Device, error) {
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return out, nil
}
