package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// The in-memory repositories back the service when POSTGRES_DSN is empty
// and in tests. Missing rows are reported as pgx.ErrNoRows so callers map
// them the same way as the Postgres implementations.

type memoryCaseRepository struct {
	mu    sync.Mutex
	cases map[string]*domain.Case
}

// NewMemoryCaseRepository returns a process-local CaseRepository.
func NewMemoryCaseRepository() CaseRepository {
	return &memoryCaseRepository{cases: map[string]*domain.Case{}}
}

func (r *memoryCaseRepository) Create(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cases[c.ID]; exists {
		return fmt.Errorf("case %s already exists", c.ID)
	}
	r.cases[c.ID] = c.Clone()
	return nil
}

func (r *memoryCaseRepository) GetByID(_ context.Context, id string) (*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return c.Clone(), nil
}

func (r *memoryCaseRepository) Mutate(ctx context.Context, id string, fn CaseMutation) (*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, ok := r.cases[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.cases[id] = working
	return working.Clone(), nil
}

func (r *memoryCaseRepository) ListWithFilter(_ context.Context, filter CaseFilter) ([]domain.Case, error) {
	r.mu.Lock()
	result := make([]domain.Case, 0, len(r.cases))
	for _, c := range r.cases {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.AssignedTo != nil && (c.AssignedTo == nil || *c.AssignedTo != *filter.AssignedTo) {
			continue
		}
		result = append(result, *c.Clone())
	}
	r.mu.Unlock()

	sortQueue(result)
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultCaseListLimit
	}
	return paginate(result, limit, filter.Offset), nil
}

func (r *memoryCaseRepository) ListBreached(_ context.Context, now time.Time) ([]domain.Case, error) {
	r.mu.Lock()
	var result []domain.Case
	for _, c := range r.cases {
		if c.Status.Open() && !c.BreachNotified() && !c.SLABreachAt.After(now) {
			result = append(result, *c.Clone())
		}
	}
	r.mu.Unlock()

	sortQueue(result)
	return result, nil
}

func (r *memoryCaseRepository) MarkBreachNotified(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if c.BreachNotified() || !c.Status.Open() {
		return false, nil
	}
	stamp := at
	c.BreachNotifiedAt = &stamp
	return true, nil
}

func (r *memoryCaseRepository) CountBy(_ context.Context, groupBy string) (map[string]int, error) {
	if groupBy != GroupByStatus && groupBy != GroupBySeverity {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrouping, groupBy)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{}
	for _, c := range r.cases {
		if groupBy == GroupByStatus {
			counts[string(c.Status)]++
		} else {
			counts[string(c.Severity)]++
		}
	}
	return counts, nil
}

func sortQueue(cases []domain.Case) {
	slices.SortStableFunc(cases, func(a, b domain.Case) int {
		if c := a.SLABreachAt.Compare(b.SLABreachAt); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type memoryExecutionRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.ExecutionRecord
}

// NewMemoryExecutionRepository returns a process-local ExecutionRepository.
func NewMemoryExecutionRepository() ExecutionRepository {
	return &memoryExecutionRepository{records: map[string]*domain.ExecutionRecord{}}
}

func (r *memoryExecutionRepository) Save(_ context.Context, rec *domain.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.ExecutionID]; ok && len(existing.Steps) > len(rec.Steps) {
		return nil
	}
	r.records[rec.ExecutionID] = rec.Clone()
	return nil
}

func (r *memoryExecutionRepository) GetByID(_ context.Context, id string) (*domain.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rec.Clone(), nil
}

type memoryAuditRepository struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewMemoryAuditRepository returns a process-local AuditRepository.
func NewMemoryAuditRepository() AuditRepository {
	return &memoryAuditRepository{}
}

func (r *memoryAuditRepository) Create(_ context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memoryAuditRepository) ListByCase(_ context.Context, caseID string) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.AuditEntry
	for _, entry := range r.entries {
		if entry.CaseID != nil && *entry.CaseID == caseID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type memoryStaffRepository struct {
	mu    sync.RWMutex
	staff map[string]*domain.StaffMember
}

// NewMemoryStaffRepository returns a process-local StaffRepository.
func NewMemoryStaffRepository() StaffRepository {
	return &memoryStaffRepository{staff: map[string]*domain.StaffMember{}}
}

func (r *memoryStaffRepository) Create(_ context.Context, staff *domain.StaffMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staff.Email = strings.ToLower(staff.Email)
	for _, existing := range r.staff {
		if existing.Email == staff.Email {
			return fmt.Errorf("staff email %s already exists", staff.Email)
		}
	}
	if staff.ID == "" {
		staff.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	staff.CreatedAt, staff.UpdatedAt = now, now
	stored := *staff
	r.staff[staff.ID] = &stored
	return nil
}

func (r *memoryStaffRepository) Update(_ context.Context, staff *domain.StaffMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.staff[staff.ID]; !ok {
		return pgx.ErrNoRows
	}
	staff.Email = strings.ToLower(staff.Email)
	for id, existing := range r.staff {
		if id != staff.ID && existing.Email == staff.Email {
			return fmt.Errorf("staff email %s already exists", staff.Email)
		}
	}
	staff.UpdatedAt = time.Now().UTC()
	stored := *staff
	r.staff[staff.ID] = &stored
	return nil
}

func (r *memoryStaffRepository) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	staff, ok := r.staff[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *staff
	return &out, nil
}

func (r *memoryStaffRepository) GetByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(email)
	for _, staff := range r.staff {
		if staff.Email == email {
			out := *staff
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryStaffRepository) List(_ context.Context, filter StaffFilter) ([]domain.StaffMember, error) {
	r.mu.RLock()
	result := make([]domain.StaffMember, 0, len(r.staff))
	for _, staff := range r.staff {
		if filter.Role != nil && staff.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && staff.Active != *filter.Active {
			continue
		}
		result = append(result, *staff)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.StaffMember) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	return paginate(result, limit, filter.Offset), nil
}
