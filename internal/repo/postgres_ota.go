package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CreateRelease stores an inactive firmware release.
func (r *PostgresRepository) CreateRelease(ctx context.Context, release OTARelease) (*OTARelease, error) {
	if err := release.validate(); err != nil {
		return nil, err
	}
	q := `
INSERT INTO ota_releases (version, description, firmware_url, is_active)
VALUES ($1, $2, $3, FALSE)
RETURNING ` + releaseColumns + `;
`
	rel, err := scanRelease(r.pool.QueryRow(ctx, q,
		strings.TrimSpace(release.Version), release.Description, release.FirmwareURL))
	if err != nil {
		return nil, pgError("create release", err)
	}
	return rel, nil
}

// GetRelease fetches a release by id.
func (r *PostgresRepository) GetRelease(ctx context.Context, id string) (*OTARelease, error) {
	q := `SELECT ` + releaseColumns + ` FROM ota_releases WHERE id = $1 LIMIT 1;`
	rel, err := scanRelease(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, pgError("get release", err)
	}
	return rel, nil
}

// ListReleases returns every release, newest first.
func (r *PostgresRepository) ListReleases(ctx context.Context) ([]OTARelease, error) {
	q := `SELECT ` + releaseColumns + ` FROM ota_releases ORDER BY created_at DESC;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, pgError("list releases", err)
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

// DeployRelease activates the release and queues one OTA command per target device.
// Every write happens in one transaction; a failure leaves no partial state behind.
func (r *PostgresRepository) DeployRelease(ctx context.Context, req DeployRequest) (*Deployment, error) {
	selected := uniqueIDs(req.DeviceIDs)
	if !req.All && len(selected) == 0 {
		return nil, ErrEmptyTargetSet
	}

	var dep *Deployment
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		rel, err := scanRelease(tx.QueryRow(ctx,
			`SELECT `+releaseColumns+` FROM ota_releases WHERE id = $1 FOR UPDATE`, req.ReleaseID))
		if err != nil {
			return fmt.Errorf("load release: %w", err)
		}

		targets, err := resolvePgTargets(ctx, tx, req.All, selected)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE ota_releases SET is_active = FALSE WHERE is_active AND id <> $1`, rel.ID); err != nil {
			return fmt.Errorf("deactivate releases: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE ota_releases SET is_active = TRUE WHERE id = $1`, rel.ID); err != nil {
			return fmt.Errorf("activate release: %w", err)
		}

		for _, id := range targets {
			if _, err := tx.Exec(ctx,
				`UPDATE devices SET ota_status = 'pending', updated_at = NOW() WHERE id = $1`, id); err != nil {
				return fmt.Errorf("mark device %s pending: %w", id, err)
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO commands (device_id, command, payload, ota_release_id, status)
VALUES ($1, $2, $3, $4, $5)`,
				id, CommandOTAUpdate, rel.FirmwareURL, rel.ID, CommandStatusPending); err != nil {
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
		dep, err = scanDeployment(tx.QueryRow(ctx, `
INSERT INTO ota_deployments (release_id, target_mode, device_ids, device_count, status, created_by)
VALUES ($1, $2, $3, $4, 'applied', $5)
RETURNING `+deploymentColumns,
			rel.ID, mode, string(ids), len(targets), req.ActorID))
		if err != nil {
			return fmt.Errorf("record deployment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, pgError("deploy release", err)
	}
	return dep, nil
}

func resolvePgTargets(ctx context.Context, tx pgx.Tx, all bool, selected []string) ([]string, error) {
	if all {
		rows, err := tx.Query(ctx, `SELECT id FROM devices ORDER BY name ASC, created_at ASC`)
		if err != nil {
			return nil, fmt.Errorf("list target devices: %w", err)
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("scan target device: %w", err)
			}
			ids = append(ids, id)
		}
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
		if err := tx.QueryRow(ctx, `SELECT id FROM devices WHERE id = $1`, id).Scan(&found); err != nil {
			return nil, fmt.Errorf("target device %s: %w", id, err)
		}
	}
	return selected, nil
}

// ListCommands returns queued device commands, newest first. An empty deviceID lists every device.
func (r *PostgresRepository) ListCommands(ctx context.Context, deviceID string, limit int) ([]Command, error) {
	q := `SELECT ` + commandColumns + ` FROM commands WHERE ($1 = '' OR device_id::text = $1) ORDER BY created_at DESC LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, deviceID, clampLimit(limit, 100))
	if err != nil {
		return nil, pgError("list commands", err)
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

// ListDeployments returns the deployment audit log, newest first.
func (r *PostgresRepository) ListDeployments(ctx context.Context, limit int) ([]Deployment, error) {
	q := `SELECT ` + deploymentColumns + ` FROM ota_deployments ORDER BY created_at DESC LIMIT $1;`
	rows, err := r.pool.Query(ctx, q, clampLimit(limit, 50))
	if err != nil {
		return nil, pgError("list deployments", err)
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
