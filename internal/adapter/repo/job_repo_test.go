package repo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"videoswap/internal/domain"
	"videoswap/internal/sqlinline"
)

type stubExecutor struct {
	tag     pgconn.CommandTag
	err     error
	row     stubRow
	queries []string
	args    [][]any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	return s.tag, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	return s.row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: got %d dest, have %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func strPtr(s string) *string { return &s }

func TestGetByIDNotFound(t *testing.T) {
	repo := NewJobRepository(&stubExecutor{row: stubRow{err: pgx.ErrNoRows}})
	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMalformedIDIsNotFound(t *testing.T) {
	invalid := &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}

	repo := NewJobRepository(&stubExecutor{row: stubRow{err: invalid}})
	if _, err := repo.GetByID(context.Background(), "abc"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID: expected ErrNotFound, got %v", err)
	}

	repo = NewJobRepository(&stubExecutor{err: invalid})
	ok, err := repo.CompareAndSwap(context.Background(), &domain.Job{ID: "abc", Status: domain.JobStatusCancelled, Version: 2}, domain.JobStatusPending)
	if ok || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("CompareAndSwap: ok=%v err=%v", ok, err)
	}

	other := &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}
	repo = NewJobRepository(&stubExecutor{row: stubRow{err: other}})
	if _, err := repo.GetByID(context.Background(), "abc"); errors.Is(err, domain.ErrNotFound) || err == nil {
		t.Fatalf("other database errors must not read as not found: %v", err)
	}
}

func TestGetByIDScansOptionalColumns(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	started := created.Add(time.Minute)
	done := created.Add(5 * time.Minute)
	cost := 42
	exec := &stubExecutor{row: stubRow{values: []any{
		"job-1", "user-1", "order-1", "tpl-1", "wf-1", "face_swap", "COMPLETED", 100,
		"https://cdn.example.com/in.jpg", strPtr("handle.png"), strPtr("remote-1"), "SUCCESS",
		strPtr("https://cdn.example.com/out.mp4"), strPtr("mp4"), &cost, strPtr("9"),
		nil, nil, 1, 3, int64(60000), int64(7),
		created, done, &started, &done,
	}}}
	repo := NewJobRepository(exec)

	job, err := repo.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted || job.Type != domain.JobTypeFaceSwap {
		t.Fatalf("status/type = %s/%s", job.Status, job.Type)
	}
	if job.Timeout != time.Minute {
		t.Fatalf("timeout = %s, want 1m", job.Timeout)
	}
	if job.Output == nil || job.Output.URL != "https://cdn.example.com/out.mp4" || job.Output.CostSeconds != 42 || job.Output.NodeID != "9" {
		t.Fatalf("unexpected output %#v", job.Output)
	}
	if job.Failure != nil {
		t.Fatalf("expected no failure, got %#v", job.Failure)
	}
	if job.RemoteID() != "remote-1" {
		t.Fatalf("remote id = %q", job.RemoteID())
	}
	if job.Version != 7 {
		t.Fatalf("version = %d, want 7", job.Version)
	}
	if exec.queries[0] != sqlinline.QSelectRenderJob {
		t.Fatalf("unexpected query used")
	}
}

func TestCompareAndSwapReportsRowsAffected(t *testing.T) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        "job-1",
		Status:    domain.JobStatusFailed,
		Failure:   &domain.JobFailure{Message: "boom", Code: "E1"},
		UpdatedAt: now,
		Version:   3,
	}

	for _, tc := range []struct {
		tag  string
		want bool
	}{
		{tag: "UPDATE 1", want: true},
		{tag: "UPDATE 0", want: false},
	} {
		exec := &stubExecutor{tag: pgconn.NewCommandTag(tc.tag)}
		repo := NewJobRepository(exec)
		ok, err := repo.CompareAndSwap(context.Background(), job, domain.JobStatusProcessing)
		if err != nil {
			t.Fatalf("CompareAndSwap error: %v", err)
		}
		if ok != tc.want {
			t.Fatalf("%s: swapped = %v, want %v", tc.tag, ok, tc.want)
		}
		args := exec.args[0]
		if len(args) != 18 {
			t.Fatalf("args len = %d, want 18", len(args))
		}
		if args[17] != "PROCESSING" {
			t.Fatalf("expected status precondition PROCESSING, got %v", args[17])
		}
		if msg, ok := args[10].(*string); !ok || msg == nil || *msg != "boom" {
			t.Fatalf("error message arg = %#v", args[10])
		}
		if url, ok := args[6].(*string); !ok || url != nil {
			t.Fatalf("output url arg should be nil, got %#v", args[6])
		}
	}
}

func TestCreatePassesTimeoutInMilliseconds(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewJobRepository(exec)
	job := &domain.Job{ID: "job-1", Status: domain.JobStatusPending, Timeout: 90 * time.Second, Version: 1}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got := exec.args[0][12]; got != int64(90000) {
		t.Fatalf("timeout arg = %v, want 90000", got)
	}
}

func TestCreateWrapsExecError(t *testing.T) {
	repo := NewJobRepository(&stubExecutor{err: errors.New("duplicate key")})
	err := repo.Create(context.Background(), &domain.Job{ID: "job-1"})
	if err == nil || !strings.Contains(err.Error(), "insert render job") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
}
