package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// ResolveDBStorage implements the ResolveStorage interface using PostgreSQL.
// Each run is written in a single transaction: the run row, one lookup row
// per vertex and one provenance row per accepted edge.
type ResolveDBStorage struct {
	conn      pgxIConn
	chunkSize int
}

type ResolveDBStorageOption func(*ResolveDBStorage)

// WithChunkSize sets how many rows are copied per CopyFrom call.
func WithChunkSize(n int) ResolveDBStorageOption {
	return func(s *ResolveDBStorage) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewResolveDBStorageWithConnection creates a new ResolveDBStorage using an
// existing database connection or pool.
func NewResolveDBStorageWithConnection(
	conn pgxIConn,
	opts ...ResolveDBStorageOption,
) *ResolveDBStorage {
	s := &ResolveDBStorage{
		conn:      conn,
		chunkSize: 5000,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}
