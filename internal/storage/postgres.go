// Package storage implements the PostgreSQL persistence layer for the pool.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opaque/core/internal/merkle"
	"github.com/opaque/core/internal/pool"
	"github.com/opaque/core/pkg/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDBConnection = errors.New("database connection error")
)

// PostgresStore implements persistent storage using PostgreSQL. It backs
// every store interface the pool needs: Merkle nodes for both trees, the
// nullifier set, the association root, and the vault balance.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "opaque",
		Password: "",
		Database: "opaque",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	dbpool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	return &PostgresStore{pool: dbpool}, nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InitSchema creates the pool tables if they do not exist
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS merkle_nodes (
			tree  TEXT   NOT NULL,
			level INT    NOT NULL,
			idx   BIGINT NOT NULL,
			node  BYTEA  NOT NULL,
			PRIMARY KEY (tree, level, idx)
		);

		CREATE TABLE IF NOT EXISTS merkle_meta (
			tree TEXT   PRIMARY KEY,
			size BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS nullifiers (
			nullifier_hash BYTEA PRIMARY KEY,
			recipient      BYTEA NOT NULL,
			value          BIGINT NOT NULL,
			seq            BIGSERIAL
		);

		CREATE TABLE IF NOT EXISTS association_root (
			id   INT PRIMARY KEY,
			root BYTEA NOT NULL
		);

		CREATE TABLE IF NOT EXISTS vault_balance (
			id      INT PRIMARY KEY,
			balance BIGINT NOT NULL
		);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// ============================================
// Merkle Tree Storage
// ============================================

// Tree names used by the daemon
const (
	StateTreeName       = "state"
	AssociationTreeName = "association"
)

// TreeStore returns a Merkle node store scoped to a named tree
func (s *PostgresStore) TreeStore(name string) merkle.TreeStore {
	return &pgTreeStore{pool: s.pool, tree: name}
}

type pgTreeStore struct {
	pool *pgxpool.Pool
	tree string
}

// GetNode retrieves a node
func (t *pgTreeStore) GetNode(ctx context.Context, level int, index uint64) (types.Hash, bool, error) {
	var nodeBytes []byte
	err := t.pool.QueryRow(ctx,
		`SELECT node FROM merkle_nodes WHERE tree = $1 AND level = $2 AND idx = $3`,
		t.tree, level, int64(index),
	).Scan(&nodeBytes)
	if err == pgx.ErrNoRows {
		return types.EmptyHash, false, nil
	}
	if err != nil {
		return types.EmptyHash, false, fmt.Errorf("get node: %w", err)
	}

	node, err := types.HashFromBytes(nodeBytes)
	if err != nil {
		return types.EmptyHash, false, fmt.Errorf("get node: %w", err)
	}
	return node, true, nil
}

// SetNode stores a node
func (t *pgTreeStore) SetNode(ctx context.Context, level int, index uint64, node types.Hash) error {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO merkle_nodes (tree, level, idx, node) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tree, level, idx) DO UPDATE SET node = $4`,
		t.tree, level, int64(index), node[:],
	)
	if err != nil {
		return fmt.Errorf("set node: %w", err)
	}
	return nil
}

// GetSize returns the leaf count
func (t *pgTreeStore) GetSize(ctx context.Context) (uint64, error) {
	var size int64
	err := t.pool.QueryRow(ctx,
		`SELECT size FROM merkle_meta WHERE tree = $1`, t.tree,
	).Scan(&size)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get size: %w", err)
	}
	return uint64(size), nil
}

// SetSize updates the leaf count
func (t *pgTreeStore) SetSize(ctx context.Context, size uint64) error {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO merkle_meta (tree, size) VALUES ($1, $2)
		 ON CONFLICT (tree) DO UPDATE SET size = $2`,
		t.tree, int64(size),
	)
	if err != nil {
		return fmt.Errorf("set size: %w", err)
	}
	return nil
}

// ============================================
// Nullifier Storage
// ============================================

// NullifierStore returns the persistent nullifier store
func (s *PostgresStore) NullifierStore() pool.NullifierStore {
	return &pgNullifierStore{pool: s.pool}
}

type pgNullifierStore struct {
	pool *pgxpool.Pool
}

// HasNullifier checks if a nullifier hash has been consumed
func (n *pgNullifierStore) HasNullifier(ctx context.Context, nullifierHash types.Hash) (bool, error) {
	var exists bool
	err := n.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM nullifiers WHERE nullifier_hash = $1)`,
		nullifierHash[:],
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has nullifier: %w", err)
	}
	return exists, nil
}

// AddNullifier records a consumed nullifier
func (n *pgNullifierStore) AddNullifier(ctx context.Context, record *pool.SpentRecord) error {
	tag, err := n.pool.Exec(ctx,
		`INSERT INTO nullifiers (nullifier_hash, recipient, value) VALUES ($1, $2, $3)
		 ON CONFLICT (nullifier_hash) DO NOTHING`,
		record.NullifierHash[:], record.Recipient[:], int64(record.Value),
	)
	if err != nil {
		return fmt.Errorf("add nullifier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pool.ErrNullifierAlreadyUsed
	}
	return nil
}

// ListNullifiers returns consumed nullifier hashes in spend order
func (n *pgNullifierStore) ListNullifiers(ctx context.Context) ([]types.Hash, error) {
	rows, err := n.pool.Query(ctx,
		`SELECT nullifier_hash FROM nullifiers ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list nullifiers: %w", err)
	}
	defer rows.Close()

	var out []types.Hash
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		var h types.Hash
		copy(h[:], b)
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetNullifier returns the record for a consumed nullifier
func (n *pgNullifierStore) GetNullifier(ctx context.Context, nullifierHash types.Hash) (*pool.SpentRecord, error) {
	var recipientBytes []byte
	var value int64
	err := n.pool.QueryRow(ctx,
		`SELECT recipient, value FROM nullifiers WHERE nullifier_hash = $1`,
		nullifierHash[:],
	).Scan(&recipientBytes, &value)
	if err == pgx.ErrNoRows {
		return nil, pool.ErrNullifierUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("get nullifier: %w", err)
	}

	record := &pool.SpentRecord{
		NullifierHash: nullifierHash,
		Value:         uint64(value),
	}
	copy(record.Recipient[:], recipientBytes)
	return record, nil
}

// ============================================
// Association Root Storage
// ============================================

// AssociationRootStore returns the persistent association root store
func (s *PostgresStore) AssociationRootStore() *PgRootStore {
	return &PgRootStore{pool: s.pool}
}

// PgRootStore persists the published association root
type PgRootStore struct {
	pool *pgxpool.Pool
}

// GetRoot returns the published root
func (r *PgRootStore) GetRoot(ctx context.Context) (types.Hash, bool, error) {
	var rootBytes []byte
	err := r.pool.QueryRow(ctx,
		`SELECT root FROM association_root WHERE id = 1`,
	).Scan(&rootBytes)
	if err == pgx.ErrNoRows {
		return types.EmptyHash, false, nil
	}
	if err != nil {
		return types.EmptyHash, false, fmt.Errorf("get association root: %w", err)
	}

	var root types.Hash
	copy(root[:], rootBytes)
	return root, true, nil
}

// SetRoot publishes a root
func (r *PgRootStore) SetRoot(ctx context.Context, root types.Hash) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO association_root (id, root) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET root = $1`,
		root[:],
	)
	if err != nil {
		return fmt.Errorf("set association root: %w", err)
	}
	return nil
}

// ============================================
// Vault Balance Storage
// ============================================

// BalanceStore returns the persistent vault balance store
func (s *PostgresStore) BalanceStore() *PgBalanceStore {
	return &PgBalanceStore{pool: s.pool}
}

// PgBalanceStore persists the vault's custodied balance
type PgBalanceStore struct {
	pool *pgxpool.Pool
}

// GetBalance returns the custodied balance
func (b *PgBalanceStore) GetBalance(ctx context.Context) (uint64, error) {
	var balance int64
	err := b.pool.QueryRow(ctx,
		`SELECT balance FROM vault_balance WHERE id = 1`,
	).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return uint64(balance), nil
}

// SetBalance updates the custodied balance
func (b *PgBalanceStore) SetBalance(ctx context.Context, balance uint64) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO vault_balance (id, balance) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET balance = $1`,
		int64(balance),
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}
