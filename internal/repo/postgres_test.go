package repo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"kiosk-fleet/internal/logging"
	"kiosk-fleet/migrations"

	"github.com/jackc/pgx/v5"
)

// newPostgresRepo runs against DATABASE_URL in a throwaway schema. Set INTEGRATION_TESTS=1 to enable.
func newPostgresRepo(t *testing.T) *PostgresRepository {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if os.Getenv("INTEGRATION_TESTS") != "1" || url == "" {
		t.Skip("postgres integration tests disabled")
	}
	ctx := context.Background()
	schema := fmt.Sprintf("kiosk_test_%d", time.Now().UnixNano())

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = conn.Close(context.Background())
	})

	r, err := New(ctx, url, schema+",public", logging.Discard())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(r.Close)
	files, _ := migrations.For("postgres")
	if err := r.RunMigrations(ctx, files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return r
}

func TestPostgresLedgerProcedure(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()
	p, err := r.CreateProfile(ctx, NewProfile{Email: "pg@example.com", PasswordHash: "hash", FullName: "PG"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	steps := []struct {
		amount int64
		want   int64
		err    error
	}{
		{100, 100, nil},
		{50, 150, nil},
		{-50, 100, nil},
		{-200, 100, ErrInsufficientBalance},
		{math.MaxInt64, 100, ErrInvalidAmount},
	}
	for _, s := range steps {
		res, err := r.ApplyLedger(ctx, LedgerRequest{ProfileID: p.ID, Amount: s.amount, Method: MethodAdminManual})
		if s.err != nil {
			if !errors.Is(err, s.err) {
				t.Fatalf("amount %d: expected %v, got %v", s.amount, s.err, err)
			}
			continue
		}
		if err != nil || res.Balance != s.want {
			t.Fatalf("amount %d: balance %v err %v, want %d", s.amount, res, err, s.want)
		}
	}
	txs, err := r.ListTransactions(ctx, p.ID, 10)
	if err != nil || len(txs) != 3 {
		t.Fatalf("expected three transactions, got %d (%v)", len(txs), err)
	}
	if _, err := r.GetProfile(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected malformed id to read as not found, got %v", err)
	}
}

func TestPostgresConcurrentDebits(t *testing.T) {
	r := newPostgresRepo(t)
	ctx := context.Background()
	p, err := r.CreateProfile(ctx, NewProfile{Email: "race@example.com", PasswordHash: "hash", FullName: "Race"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if _, err := r.ApplyLedger(ctx, LedgerRequest{ProfileID: p.ID, Amount: 100, Method: MethodAdminManual}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ApplyLedger(ctx, LedgerRequest{ProfileID: p.ID, Amount: -10, Method: MethodQR})
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if applied != 10 {
		t.Fatalf("expected exactly ten debits to apply, got %d", applied)
	}
	got, err := r.GetProfile(ctx, p.ID)
	if err != nil || got.Balance != 0 {
		t.Fatalf("expected zero balance, got %+v (%v)", got, err)
	}
}
