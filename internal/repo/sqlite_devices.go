package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func (r *SQLiteRepository) CreateDevice(ctx context.Context, in DeviceInput) (*Device, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := sqliteNow()
	q := `
INSERT INTO devices (id, name, location, latitude, longitude, status, price, firmware_version, ota_status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 'online', ?, ?, 'idle', ?, ?)
RETURNING ` + deviceColumns + `;
`
	d, err := scanDevice(r.db.QueryRowContext(ctx, q,
		newID(), strings.TrimSpace(in.Name), strings.TrimSpace(in.Location), in.Latitude, in.Longitude, in.Price, in.FirmwareVersion, now, now))
	if err != nil {
		return nil, sqliteError("create device", err)
	}
	return d, nil
}

func (r *SQLiteRepository) UpdateDevice(ctx context.Context, id string, in DeviceInput) (*Device, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	q := `
UPDATE devices
SET name = ?, location = ?, latitude = ?, longitude = ?, price = ?, firmware_version = ?, updated_at = ?
WHERE id = ?
RETURNING ` + deviceColumns + `;
`
	d, err := scanDevice(r.db.QueryRowContext(ctx, q,
		strings.TrimSpace(in.Name), strings.TrimSpace(in.Location), in.Latitude, in.Longitude, in.Price, in.FirmwareVersion, sqliteNow(), id))
	if err != nil {
		return nil, sqliteError("update device", err)
	}
	return d, nil
}

func (r *SQLiteRepository) DeleteDevice(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return sqliteError("delete device", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete device %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ? LIMIT 1;`
	d, err := scanDevice(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteError("get device", err)
	}
	return d, nil
}

func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name ASC, created_at ASC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, sqliteError("list devices", err)
	}
	defer rows.Close()

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

func (r *SQLiteRepository) SetDeviceStatus(ctx context.Context, id string, status DeviceStatus) (*Device, error) {
	if !status.Valid() {
		return nil, invalid("unknown device status " + string(status))
	}
	now := sqliteNow()
	q := `
UPDATE devices
SET status = ?,
    last_seen = CASE WHEN ? = 'online' THEN ? ELSE last_seen END,
    updated_at = ?
WHERE id = ?
RETURNING ` + deviceColumns + `;
`
	d, err := scanDevice(r.db.QueryRowContext(ctx, q, string(status), string(status), now, now, id))
	if err != nil {
		return nil, sqliteError("set device status", err)
	}
	return d, nil
}

func (r *SQLiteRepository) BulkUpdatePrices(ctx context.Context, mode PriceMode, value float64) ([]Device, error) {
	if _, err := ApplyPriceChange(mode, 0, value); err != nil {
		return nil, err
	}

	var out []Device
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, price FROM devices ORDER BY name ASC`)
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

		now := sqliteNow()
		q := `UPDATE devices SET price = ?, updated_at = ? WHERE id = ? RETURNING ` + deviceColumns
		for _, p := range current {
			next, err := ApplyPriceChange(mode, p.price, value)
			if err != nil {
				return err
			}
			d, err := scanDevice(tx.QueryRowContext(ctx, q, next, now, p.id))
			if err != nil {
				return err
			}
			out = append(out, *d)
		}
		return nil
	})
	if err != nil {
		return nil, sqliteError("bulk update prices", err)
	}
	return out, nil
}
