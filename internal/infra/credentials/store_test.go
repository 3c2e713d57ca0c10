package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"videoswap/internal/sqlinline"
)

type stubExecutor struct {
	token string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestRenderAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: " rh-abc123 "})
	key, err := store.RenderAPIKey(context.Background())
	if err != nil {
		t.Fatalf("RenderAPIKey error: %v", err)
	}
	if key != "rh-abc123" {
		t.Fatalf("expected rh-abc123, got %q", key)
	}
}

func TestRenderAPIKey_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.RenderAPIKey(context.Background())
	if err != nil {
		t.Fatalf("RenderAPIKey error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestSetRenderAPIKey(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetRenderAPIKey(context.Background(), " secret ", "ops@example.com"); err != nil {
		t.Fatalf("SetRenderAPIKey error: %v", err)
	}
	if exec.exec.query != sqlinline.QUpsertIntegrationToken {
		t.Fatalf("unexpected query %q", exec.exec.query)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
	if raw, ok := exec.exec.args[2].([]byte); !ok || string(raw) != `{"rotated_by":"ops@example.com"}` {
		t.Fatalf("unexpected properties %v", exec.exec.args[2])
	}
}

func TestSetRenderAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetRenderAPIKey(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestResolveRenderAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: "from-db"})
	cases := []struct {
		name       string
		configured string
		store      *Store
		want       string
	}{
		{name: "configured wins", configured: " env-key ", store: store, want: "env-key"},
		{name: "falls back to store", configured: "", store: store, want: "from-db"},
		{name: "no store", configured: "", store: nil, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveRenderAPIKey(context.Background(), tc.configured, tc.store)
			if err != nil || got != tc.want {
				t.Fatalf("ResolveRenderAPIKey = %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}
