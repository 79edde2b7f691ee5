package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	name string
	sql  string
}

// readMigrations returns the non-empty .sql files of filesystem in lexicographical order.
func readMigrations(filesystem fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(filesystem, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		sqlBytes, err := fs.ReadFile(filesystem, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if len(strings.TrimSpace(string(sqlBytes))) == 0 {
			continue
		}
		out = append(out, migration{name: entry.Name(), sql: string(sqlBytes)})
	}
	return out, nil
}

// ApplyMigrations executes SQL files against the provided pool in lexicographical order.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS) error {
	migrations, err := readMigrations(filesystem)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if err := executeSQL(ctx, pool, m.sql); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
	}

	return nil
}

func executeSQL(ctx context.Context, pool *pgxpool.Pool, sql string) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql)
		return err
	})
}

// applySQLMigrations is the database/sql counterpart of ApplyMigrations.
func applySQLMigrations(ctx context.Context, db *sql.DB, filesystem fs.FS) error {
	migrations, err := readMigrations(filesystem)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
	}
	return nil
}
