package postgres

import (
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kestrelqueue/taskqueue/internal/domain"
)

// connectionLossStates are the SQLSTATEs the worker loop treats as
// "the connection dropped, not a data problem" — spec.md §4.3.
var connectionLossStates = map[string]bool{
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08003": true, // connection_does_not_exist
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": true, // connection_failure
}

const serializationFailure = "40001"

// classify maps a raw error from a pool operation onto the taxonomy
// spec.md §4.3/§7 dispatches on: transient storage errors the loop can
// sleep-and-resume past, pool closure, or something else entirely
// (returned unchanged).
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgxpool.ErrClosedPool) {
		return domain.ErrPoolClosed
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if connectionLossStates[pgErr.Code] || pgErr.Code == serializationFailure {
			return &domain.TransientStorageError{SQLState: pgErr.Code, Err: err}
		}
		return err
	}

	// pgx surfaces a dead pool as a plain net.Error/closed-pool error
	// rather than a PgError — pgxpool itself returns pgxpool.ErrClosedPool
	// on the operation, but we match broadly on net.Error for "connection
	// refused"-class failures that reach us before pgx can attach a
	// SQLSTATE.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.TransientStorageError{SQLState: "", Err: err}
	}

	return err
}
