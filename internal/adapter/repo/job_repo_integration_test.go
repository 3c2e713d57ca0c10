//go:build integration

package repo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"videoswap/internal/adapter/repo"
	"videoswap/internal/domain"
	"videoswap/internal/infra"
	"videoswap/internal/jobs"
)

// setupRepo starts Postgres in a container and returns a migrated repository.
func setupRepo(t *testing.T) *repo.JobRepositoryPG {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("videoswap_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	r := repo.NewJobRepository(infra.NewSQLRunner(pool, zerolog.Nop()))
	if err := r.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrate is idempotent.
	if err := r.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return r
}

func newJob(user string, created time.Time) *domain.Job {
	return &domain.Job{
		ID:               uuid.NewString(),
		UserID:           user,
		OrderID:          "order-" + user,
		TemplateID:       "tmpl-1",
		WorkflowRef:      "wf-1",
		Type:             domain.JobTypeFaceSwap,
		Status:           domain.JobStatusPending,
		InputResourceURL: "https://cdn.example.com/in.jpg",
		MaxRetries:       3,
		Timeout:          30 * time.Minute,
		Version:          1,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestJobRepositoryCompareAndSwap(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := newJob("u1", now)
	if err := r.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := job.Clone()
	next.Status = domain.JobStatusUploading
	next.Progress = 10
	next.StartedAt = &now
	next.Version = 2
	ok, err := r.CompareAndSwap(ctx, next, domain.JobStatusPending)
	if err != nil || !ok {
		t.Fatalf("first swap: ok=%v err=%v", ok, err)
	}

	// Same expected state again loses.
	ok, err = r.CompareAndSwap(ctx, next, domain.JobStatusPending)
	if err != nil || ok {
		t.Fatalf("replayed swap: ok=%v err=%v", ok, err)
	}

	got, err := r.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobStatusUploading || got.Version != 2 || got.StartedAt == nil {
		t.Fatalf("unexpected row: %+v", got)
	}

	if _, err := r.GetByID(ctx, uuid.NewString()); err != domain.ErrNotFound {
		t.Fatalf("missing job: got %v", err)
	}
}

func TestJobRepositoryConcurrentSwapSingleWinner(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	job := newJob("u1", time.Now().UTC())
	if err := r.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := job.Clone()
			next.Status = domain.JobStatusCancelled
			next.Version = 2
			ok, err := r.CompareAndSwap(ctx, next, domain.JobStatusPending)
			if err != nil {
				t.Errorf("swap: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestJobRepositoryManagerLifecycle(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	m, err := jobs.NewManager(jobs.Options{Repo: r})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	id, err := m.CreateJob(ctx, jobs.CreateJobParams{
		UserID:           "u1",
		OrderID:          "o1",
		TemplateID:       "tmpl-1",
		WorkflowRef:      "wf-1",
		InputResourceURL: "https://cdn.example.com/in.jpg",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.MarkStarted(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.MarkSubmitted(ctx, id, "remote-1", "handle-1", "QUEUED"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := m.ObserveRemoteStatus(ctx, id, "remote-1", "SUCCESS"); err != nil {
		t.Fatalf("observe: %v", err)
	}
	done, err := m.MarkCompleted(ctx, id, domain.JobOutput{URL: "https://cdn.example.com/out.mp4", Kind: "mp4", CostSeconds: 90})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.JobStatusCompleted || done.Progress != 100 {
		t.Fatalf("unexpected job: %+v", done)
	}

	page, err := m.ListJobsForUser(ctx, "u1", nil, 1, 10)
	if err != nil || page.Total != 1 {
		t.Fatalf("list: page=%+v err=%v", page, err)
	}
	est, err := m.EstimateRemainingSeconds(ctx, "wf-1")
	if err != nil || est != 90 {
		t.Fatalf("estimate: %d %v", est, err)
	}
	stats, err := m.GetStats(ctx, "u1")
	if err != nil || stats[domain.JobStatusCompleted] != 1 {
		t.Fatalf("stats: %v %v", stats, err)
	}
}
