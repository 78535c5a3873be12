package storage

import (
	"context"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

// Storage holds the run history and the API keys of the HTTP surface.
// Runs are an audit trail only; reconciliation never reads them back.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Runs
	CreateRun(ctx context.Context, run *domain.Run) error
	// GetRun returns the run with its operations, problems and orphans.
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	GetLatestRun(ctx context.Context) (*domain.Run, error)
	// ListRuns returns runs newest first, without their operations.
	ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	AddRunOperations(ctx context.Context, runID string, ops []*domain.RunOperation) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
