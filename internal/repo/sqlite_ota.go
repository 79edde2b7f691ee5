package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

func (r *SQLiteRepository) CreateRelease(ctx context.Context, release OTARelease) (*OTARelease, error) {
	if err := release.validate(); err != nil {
		return nil, err
	}
	q := `
INSERT INTO ota_releases (id, version, description, firmware_url, is_active, created_at)
VALUES (?, ?, ?, ?, 0, ?)
RETURNING ` + releaseColumns + `;
`
	rel, err := scanRelease(r.db.QueryRowContext(ctx, q,
		newID(), strings.TrimSpace(release.Version), release.Description, release.FirmwareURL, sqliteNow()))
	if err != nil {
		return nil, sqliteError("create release", err)
	}
	return rel, nil
}

func (r *SQLiteRepository) GetRelease(ctx context.Context, id string) (*OTARelease, error) {
	q := `SELECT ` + releaseColumns + ` FROM ota_releases WHERE id = ? LIMIT 1;`
	rel, err := scanRelease(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, sqliteError("get release", err)
	}
	return rel, nil
}

func (r *SQLiteRepository) ListReleases(ctx context.Context) ([]OTARelease, error) {
	q := `SELECT ` + releaseColumns + ` FROM ota_releases ORDER BY created_at DESC, rowid DESC;`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, sqliteError("list releases", err)
	}
	defer rows.Close()

	var out []OTARelease
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		out = append(out, *rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) DeployRelease(ctx context.Context, req DeployRequest) (*Deployment, error) {
	selected := uniqueIDs(req.DeviceIDs)
	if !req.All && len(selected) == 0 {
		return nil, ErrEmptyTargetSet
	}

	var dep *Deployment
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rel, err := scanRelease(tx.QueryRowContext(ctx,
			`SELECT `+releaseColumns+` FROM ota_releases WHERE id = ?`, req.ReleaseID))
		if err != nil {
			return fmt.Errorf("load release: %w", err)
		}

		targets, err := resolveSQLiteTargets(ctx, tx, req.All, selected)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE ota_releases SET is_active = 0 WHERE is_active = 1 AND id <> ?`, rel.ID); err != nil {
			return fmt.Errorf("deactivate releases: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ota_releases SET is_active = 1 WHERE id = ?`, rel.ID); err != nil {
			return fmt.Errorf("activate release: %w", err)
		}

		now := sqliteNow()
		for _, id := range targets {
			if _, err := tx.ExecContext(ctx,
				`UPDATE devices SET ota_status = 'pending', updated_at = ? WHERE id = ?`, now, id); err != nil {
				return fmt.Errorf("mark device %s pending: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO commands (id, device_id, command, payload, ota_release_id, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				newID(), id, CommandOTAUpdate, rel.FirmwareURL, rel.ID, CommandStatusPending, now); err != nil {
				return fmt.Errorf("queue command for %s: %w", id, err)
			}
		}

		ids, err := json.Marshal(targets)
		if err != nil {
			return fmt.Errorf("encode device ids: %w", err)
		}
		mode := TargetSelected
		if req.All {
			mode = TargetAll
		}
		dep, err = scanDeployment(tx.QueryRowContext(ctx, `
INSERT INTO ota_deployments (id, release_id, target_mode, device_ids, device_count, status, created_by, created_at)
VALUES (?, ?, ?, ?, ?, 'applied', ?, ?)
RETURNING `+deploymentColumns,
			newID(), rel.ID, mode, string(ids), len(targets), req.ActorID, now))
		if err != nil {
			return fmt.Errorf("record deployment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, sqliteError("deploy release", err)
	}
	return dep, nil
}

func resolveSQLiteTargets(ctx context.Context, tx *sql.Tx, all bool, selected []string) ([]string, error) {
	if all {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM devices ORDER BY name ASC, created_at ASC`)
		if err != nil {
			return nil, fmt.Errorf("list target devices: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan target device: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, ErrEmptyTargetSet
		}
		return ids, nil
	}

	for _, id := range selected {
		var found string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM devices WHERE id = ?`, id).Scan(&found); err != nil {
			return nil, fmt.Errorf("target device %s: %w", id, err)
		}
	}
	return selected, nil
}

func (r *SQLiteRepository) ListCommands(ctx context.Context, deviceID string, limit int) ([]Command, error) {
	q := `SELECT ` + commandColumns + ` FROM commands`
	args := []any{}
	if deviceID != "" {
		q += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, clampLimit(limit, 100))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, sqliteError("list commands", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListDeployments(ctx context.Context, limit int) ([]Deployment, error) {
	q := `SELECT ` + deploymentColumns + ` FROM ota_deployments ORDER BY created_at DESC, rowid DESC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, clampLimit(limit, 50))
	if err != nil {
		return nil, sqliteError("list deployments", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return out, nil
}
