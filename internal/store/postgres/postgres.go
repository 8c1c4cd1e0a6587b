// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/postfiatorg/validator-history-service/internal/model"
	"github.com/postfiatorg/validator-history-service/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
// maxConns bounds the pool; cycles fan out up to that many writers.
func New(ctx context.Context, databaseURL string, maxConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxConns < 2 {
		maxConns = 2
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertManifest(ctx context.Context, m *model.Manifest, conclusive bool) error {
	return queryUpsertManifest(ctx, s.db, m, conclusive)
}

func (s *PostgresStore) GetManifest(ctx context.Context, signingKey string, seq uint32) (*model.Manifest, error) {
	return queryGetManifest(ctx, s.db, signingKey, seq)
}

func (s *PostgresStore) ListManifests(ctx context.Context, masterKey string) ([]*model.Manifest, error) {
	return queryListManifests(ctx, s.db, masterKey)
}

func (s *PostgresStore) AuthoritativeManifests(ctx context.Context) ([]model.AuthoritativeManifest, error) {
	return queryAuthoritativeManifests(ctx, s.db)
}

func (s *PostgresStore) ApplyManifestRevocations(ctx context.Context, winners []model.AuthoritativeManifest) ([]model.RevocationChange, error) {
	return queryApplyManifestRevocations(ctx, s.db, winners)
}

func (s *PostgresStore) ApplyParticipantRevocations(ctx context.Context) (int64, error) {
	return queryApplyParticipantRevocations(ctx, s.db)
}

func (s *PostgresStore) ObserveParticipants(ctx context.Context, keys []string, seenAt time.Time) (int64, error) {
	return queryObserveParticipants(ctx, s.db, keys, seenAt)
}

func (s *PostgresStore) GetParticipant(ctx context.Context, signingKey string) (*model.Participant, error) {
	return queryGetParticipant(ctx, s.db, signingKey)
}

func (s *PostgresStore) ListParticipants(ctx context.Context) ([]*model.Participant, error) {
	return queryListParticipants(ctx, s.db)
}

func (s *PostgresStore) ListSigningKeys(ctx context.Context) ([]string, error) {
	return queryListSigningKeys(ctx, s.db)
}

func (s *PostgresStore) PropagateManifests(ctx context.Context) (int64, error) {
	return queryPropagateManifests(ctx, s.db)
}

func (s *PostgresStore) ReplaceListMembership(ctx context.Context, tag string, keys, keepMasters []string, seenAt time.Time) (model.MembershipChange, error) {
	return queryReplaceListMembership(ctx, s.db, tag, keys, keepMasters, seenAt)
}

func (s *PostgresStore) PurgeStaleParticipants(ctx context.Context, cutoff time.Time) (int64, error) {
	return queryPurgeStaleParticipants(ctx, s.db, cutoff)
}

func (s *PostgresStore) PurgeRevokedParticipants(ctx context.Context) (int64, error) {
	return queryPurgeRevokedParticipants(ctx, s.db)
}

func (s *PostgresStore) ApplyFallbackDomain(ctx context.Context, masterKey, domain string) (int64, error) {
	return queryApplyFallbackDomain(ctx, s.db, masterKey, domain)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) UpsertManifest(ctx context.Context, m *model.Manifest, conclusive bool) error {
	return queryUpsertManifest(ctx, s.tx, m, conclusive)
}

func (s *txStore) GetManifest(ctx context.Context, signingKey string, seq uint32) (*model.Manifest, error) {
	return queryGetManifest(ctx, s.tx, signingKey, seq)
}

func (s *txStore) ListManifests(ctx context.Context, masterKey string) ([]*model.Manifest, error) {
	return queryListManifests(ctx, s.tx, masterKey)
}

func (s *txStore) AuthoritativeManifests(ctx context.Context) ([]model.AuthoritativeManifest, error) {
	return queryAuthoritativeManifests(ctx, s.tx)
}

func (s *txStore) ApplyManifestRevocations(ctx context.Context, winners []model.AuthoritativeManifest) ([]model.RevocationChange, error) {
	return queryApplyManifestRevocations(ctx, s.tx, winners)
}

func (s *txStore) ApplyParticipantRevocations(ctx context.Context) (int64, error) {
	return queryApplyParticipantRevocations(ctx, s.tx)
}

func (s *txStore) ObserveParticipants(ctx context.Context, keys []string, seenAt time.Time) (int64, error) {
	return queryObserveParticipants(ctx, s.tx, keys, seenAt)
}

func (s *txStore) GetParticipant(ctx context.Context, signingKey string) (*model.Participant, error) {
	return queryGetParticipant(ctx, s.tx, signingKey)
}

func (s *txStore) ListParticipants(ctx context.Context) ([]*model.Participant, error) {
	return queryListParticipants(ctx, s.tx)
}

func (s *txStore) ListSigningKeys(ctx context.Context) ([]string, error) {
	return queryListSigningKeys(ctx, s.tx)
}

func (s *txStore) PropagateManifests(ctx context.Context) (int64, error) {
	return queryPropagateManifests(ctx, s.tx)
}

func (s *txStore) ReplaceListMembership(ctx context.Context, tag string, keys, keepMasters []string, seenAt time.Time) (model.MembershipChange, error) {
	return queryReplaceListMembership(ctx, s.tx, tag, keys, keepMasters, seenAt)
}

func (s *txStore) PurgeStaleParticipants(ctx context.Context, cutoff time.Time) (int64, error) {
	return queryPurgeStaleParticipants(ctx, s.tx, cutoff)
}

func (s *txStore) PurgeRevokedParticipants(ctx context.Context) (int64, error) {
	return queryPurgeRevokedParticipants(ctx, s.tx)
}

func (s *txStore) ApplyFallbackDomain(ctx context.Context, masterKey, domain string) (int64, error) {
	return queryApplyFallbackDomain(ctx, s.tx, masterKey, domain)
}

// RunInTransaction on a txStore runs fn within the existing transaction.
func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store.
func (s *txStore) Close() error {
	return nil
}
