package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing
// and for servers started without a database.
type Store struct {
	mu sync.RWMutex

	apiKeys map[string]*domain.APIKey // key: id
	runs    map[string]*domain.Run    // key: id
	runOps  map[string][]*domain.RunOperation
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys: make(map[string]*domain.APIKey),
		runs:    make(map[string]*domain.Run),
		runOps:  make(map[string][]*domain.RunOperation),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{store: s}, nil
}

// Tx is a no-op transaction for in-memory store.
type Tx struct {
	store *Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return t, nil
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return t.store.CreateAPIKey(ctx, key)
}
func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return t.store.GetAPIKeyByHash(ctx, keyHash)
}
func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return t.store.ListAPIKeys(ctx)
}
func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return t.store.DeleteAPIKey(ctx, id)
}
func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return t.store.UpdateAPIKeyLastUsed(ctx, id)
}
func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return t.store.CountAPIKeys(ctx)
}
func (t *Tx) CreateRun(ctx context.Context, run *domain.Run) error {
	return t.store.CreateRun(ctx, run)
}
func (t *Tx) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return t.store.GetRun(ctx, id)
}
func (t *Tx) GetLatestRun(ctx context.Context) (*domain.Run, error) {
	return t.store.GetLatestRun(ctx)
}
func (t *Tx) ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	return t.store.ListRuns(ctx, limit, offset)
}
func (t *Tx) UpdateRun(ctx context.Context, run *domain.Run) error {
	return t.store.UpdateRun(ctx, run)
}
func (t *Tx) AddRunOperations(ctx context.Context, runID string, ops []*domain.RunOperation) error {
	return t.store.AddRunOperations(ctx, runID, ops)
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	for _, k := range s.apiKeys {
		if k.KeyHash == key.KeyHash {
			return domain.ErrAlreadyExists
		}
	}
	c := *key
	s.apiKeys[key.ID] = &c
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			c := *key
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		c := *key
		keys = append(keys, &c)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Runs
// ============================================

// copyRun copies the run header; slices are shared read-only.
func copyRun(run *domain.Run) *domain.Run {
	c := *run
	c.Operations = nil
	c.Problems = slices.Clone(run.Problems)
	if run.Orphans != nil {
		o := *run.Orphans
		c.Orphans = &o
	}
	return &c
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.runs[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	c := copyRun(run)
	for _, op := range s.runOps[id] {
		o := *op
		c.Operations = append(c.Operations, &o)
	}
	return c, nil
}

func (s *Store) GetLatestRun(ctx context.Context) (*domain.Run, error) {
	runs, err := s.ListRuns(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetRun(ctx, runs[0].ID)
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return []*domain.Run{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return domain.ErrNotFound
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *Store) AddRunOperations(ctx context.Context, runID string, ops []*domain.RunOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; !exists {
		return domain.ErrNotFound
	}
	for _, op := range ops {
		o := *op
		o.RunID = runID
		s.runOps[runID] = append(s.runOps[runID], &o)
	}
	return nil
}
