package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

func seedCase(t *testing.T, repo CaseRepository, id string, status domain.CaseStatus, breach, created time.Time) {
	t.Helper()
	err := repo.Create(context.Background(), &domain.Case{
		ID:          id,
		Status:      status,
		Severity:    domain.SeverityHigh,
		SLABreachAt: breach,
		CreatedAt:   created,
		UpdatedAt:   created,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestMemoryCaseListOrdersByBreachThenCreated(t *testing.T) {
	repo := NewMemoryCaseRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedCase(t, repo, "late", domain.CaseStatusNew, base.Add(time.Hour), base)
	seedCase(t, repo, "tie-newer", domain.CaseStatusNew, base.Add(time.Minute), base.Add(2*time.Second))
	seedCase(t, repo, "tie-older", domain.CaseStatusNew, base.Add(time.Minute), base.Add(time.Second))
	seedCase(t, repo, "other", domain.CaseStatusWaiting, base, base)

	status := domain.CaseStatusNew
	got, err := repo.ListWithFilter(context.Background(), CaseFilter{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tie-older", "tie-newer", "late"}
	if len(got) != len(want) {
		t.Fatalf("got %d cases, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMemoryCaseListDefaultsToPageLimit(t *testing.T) {
	repo := NewMemoryCaseRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < DefaultCaseListLimit+5; i++ {
		seedCase(t, repo, fmt.Sprintf("case-%03d", i), domain.CaseStatusNew, base.Add(time.Duration(i)*time.Minute), base)
	}

	got, err := repo.ListWithFilter(context.Background(), CaseFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultCaseListLimit {
		t.Fatalf("got %d cases, want %d", len(got), DefaultCaseListLimit)
	}

	got, err = repo.ListWithFilter(context.Background(), CaseFilter{Offset: DefaultCaseListLimit})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[0].ID != fmt.Sprintf("case-%03d", DefaultCaseListLimit) {
		t.Fatalf("second page: got %d cases starting at %v", len(got), got)
	}
}

func TestMemoryMutateAbortLeavesCaseUntouched(t *testing.T) {
	repo := NewMemoryCaseRepository()
	now := time.Now()
	seedCase(t, repo, "c1", domain.CaseStatusNew, now, now)

	abort := errors.New("abort")
	_, err := repo.Mutate(context.Background(), "c1", func(c *domain.Case) error {
		c.Status = domain.CaseStatusClosed
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	c, _ := repo.GetByID(context.Background(), "c1")
	if c.Status != domain.CaseStatusNew {
		t.Fatalf("aborted mutation leaked: %s", c.Status)
	}

	if _, err := repo.Mutate(context.Background(), "missing", func(*domain.Case) error { return nil }); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestMemoryMarkBreachNotifiedClaimsOnce(t *testing.T) {
	repo := NewMemoryCaseRepository()
	now := time.Now()
	seedCase(t, repo, "c1", domain.CaseStatusNew, now.Add(-time.Minute), now.Add(-time.Hour))

	breached, _ := repo.ListBreached(context.Background(), now)
	if len(breached) != 1 {
		t.Fatalf("expected 1 breached case, got %d", len(breached))
	}
	first, _ := repo.MarkBreachNotified(context.Background(), "c1", now)
	second, _ := repo.MarkBreachNotified(context.Background(), "c1", now)
	if !first || second {
		t.Fatalf("claims = %v, %v; want true, false", first, second)
	}
	breached, _ = repo.ListBreached(context.Background(), now)
	if len(breached) != 0 {
		t.Fatal("notified case should leave the breach list")
	}
}

func TestMemoryCountBy(t *testing.T) {
	repo := NewMemoryCaseRepository()
	now := time.Now()
	seedCase(t, repo, "a", domain.CaseStatusNew, now, now)
	seedCase(t, repo, "b", domain.CaseStatusNew, now, now)
	seedCase(t, repo, "c", domain.CaseStatusClosed, now, now)

	counts, err := repo.CountBy(context.Background(), GroupByStatus)
	if err != nil {
		t.Fatal(err)
	}
	if counts["new"] != 2 || counts["closed"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if _, err := repo.CountBy(context.Background(), "user_hash"); !errors.Is(err, ErrUnsupportedGrouping) {
		t.Fatalf("expected ErrUnsupportedGrouping, got %v", err)
	}
}

func TestMemoryExecutionSaveNeverShrinks(t *testing.T) {
	repo := NewMemoryExecutionRepository()
	rec := &domain.ExecutionRecord{
		ExecutionID: "e1",
		Steps:       []domain.NodeEntry{{Seq: 1, Node: "INGESTED"}, {Seq: 2, Node: "CLASSIFIED"}},
	}
	if err := repo.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	rec.Steps = rec.Steps[:1]
	_ = repo.Save(context.Background(), rec)

	got, err := repo.GetByID(context.Background(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("stored steps shrank to %d", len(got.Steps))
	}
}
