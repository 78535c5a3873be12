package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New connects to the database and runs the embedded migrations.
// driver is "sqlite3" or "postgres".
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if driver == "sqlite3" {
		// A single connection keeps ":memory:" databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// dbInterface is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// API Keys
// ============================================

const apiKeyColumns = `id, name, key_hash, key_prefix, scope, created_at, last_used_at`

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scope, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	keys := []*domain.APIKey{}
	err := db.SelectContext(ctx, &keys, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

func countAPIKeys(ctx context.Context, db dbInterface) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}

// ============================================
// Runs
// ============================================

const runColumns = `id, mode, status, master_account_id, error, problems, orphans, started_at, finished_at`

// runRow is a runs row; problems and orphans are stored as JSON.
type runRow struct {
	domain.Run
	ProblemsJSON string `db:"problems"`
	OrphansJSON  string `db:"orphans"`
}

func newRunRow(run *domain.Run) (*runRow, error) {
	problems := run.Problems
	if problems == nil {
		problems = []domain.Problem{}
	}
	p, err := json.Marshal(problems)
	if err != nil {
		return nil, fmt.Errorf("encoding run problems: %w", err)
	}
	orphans := run.Orphans
	if orphans == nil {
		orphans = &domain.OrphanReport{}
	}
	o, err := json.Marshal(orphans)
	if err != nil {
		return nil, fmt.Errorf("encoding run orphans: %w", err)
	}
	return &runRow{Run: *run, ProblemsJSON: string(p), OrphansJSON: string(o)}, nil
}

func (r *runRow) toRun() (*domain.Run, error) {
	run := r.Run
	if r.ProblemsJSON != "" {
		if err := json.Unmarshal([]byte(r.ProblemsJSON), &run.Problems); err != nil {
			return nil, fmt.Errorf("decoding run problems: %w", err)
		}
	}
	if r.OrphansJSON != "" {
		var orphans domain.OrphanReport
		if err := json.Unmarshal([]byte(r.OrphansJSON), &orphans); err != nil {
			return nil, fmt.Errorf("decoding run orphans: %w", err)
		}
		if !orphans.Empty() {
			run.Orphans = &orphans
		}
	}
	return &run, nil
}

func createRun(ctx context.Context, db dbInterface, run *domain.Run) error {
	row, err := newRunRow(run)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID, row.Mode, row.Status, row.MasterAccountID, row.Error,
		row.ProblemsJSON, row.OrphansJSON, row.StartedAt, row.FinishedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (t *Tx) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, t.tx, run)
}

func getRun(ctx context.Context, db dbInterface, id string) (*domain.Run, error) {
	var row runRow
	err := db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run, err := row.toRun()
	if err != nil {
		return nil, err
	}
	err = db.SelectContext(ctx, &run.Operations,
		`SELECT run_id, seq, kind, name, ou, status, error FROM run_operations WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (t *Tx) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, t.tx, id)
}

func getLatestRun(ctx context.Context, db dbInterface) (*domain.Run, error) {
	var id string
	err := db.GetContext(ctx, &id, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return getRun(ctx, db, id)
}

func (s *Store) GetLatestRun(ctx context.Context) (*domain.Run, error) {
	return getLatestRun(ctx, s.db)
}

func (t *Tx) GetLatestRun(ctx context.Context) (*domain.Run, error) {
	return getLatestRun(ctx, t.tx)
}

func listRuns(ctx context.Context, db dbInterface, limit, offset int) ([]*domain.Run, error) {
	var rows []*runRow
	err := db.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	runs := make([]*domain.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	return listRuns(ctx, s.db, limit, offset)
}

func (t *Tx) ListRuns(ctx context.Context, limit, offset int) ([]*domain.Run, error) {
	return listRuns(ctx, t.tx, limit, offset)
}

func updateRun(ctx context.Context, db dbInterface, run *domain.Run) error {
	row, err := newRunRow(run)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx,
		`UPDATE runs SET status = $1, error = $2, problems = $3, orphans = $4, finished_at = $5 WHERE id = $6`,
		row.Status, row.Error, row.ProblemsJSON, row.OrphansJSON, row.FinishedAt, row.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (t *Tx) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, t.tx, run)
}

func addRunOperations(ctx context.Context, db dbInterface, runID string, ops []*domain.RunOperation) error {
	for _, op := range ops {
		_, err := db.ExecContext(ctx,
			`INSERT INTO run_operations (run_id, seq, kind, name, ou, status, error) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, op.Seq, op.Kind, op.Name, op.OU, op.Status, op.Error)
		if err != nil {
			return wrapUniqueError(err)
		}
	}
	return nil
}

func (s *Store) AddRunOperations(ctx context.Context, runID string, ops []*domain.RunOperation) error {
	return addRunOperations(ctx, s.db, runID, ops)
}

func (t *Tx) AddRunOperations(ctx context.Context, runID string, ops []*domain.RunOperation) error {
	return addRunOperations(ctx, t.tx, runID, ops)
}
