package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/chainguard/core/pkg/contracts"
)

// PostgresArchive mirrors audit entries into Postgres for durable,
// queryable long-term storage, separate from the in-memory Log that serves
// the hot path: plain database/sql with an explicit migrate step, the same
// shape as a Postgres-backed ledger or receipt store.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) (*PostgresArchive, error) {
	a := &PostgresArchive{db: db}
	if err := a.migrate(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *PostgresArchive) migrate(ctx context.Context) error {
	const query = `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id BIGINT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		action_type TEXT NOT NULL,
		action_params TEXT NOT NULL,
		requester TEXT NOT NULL,
		decision TEXT NOT NULL,
		matched_policy TEXT,
		reason TEXT,
		proposal_id BIGINT,
		execution_success BOOLEAN,
		execution_tx_hash TEXT,
		execution_error TEXT,
		content_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL
	)`
	_, err := a.db.ExecContext(ctx, query)
	return err
}

// Append persists one audit entry. Entries are append-only in this store
// as well: it never issues an UPDATE except through AttachExecution.
func (a *PostgresArchive) Append(ctx context.Context, e contracts.AuditEntry) error {
	const query = `
	INSERT INTO audit_entries (
		id, trace_id, timestamp, action_type, action_params, requester,
		decision, matched_policy, reason, proposal_id, content_hash, prev_hash
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := a.db.ExecContext(ctx, query,
		e.ID, e.TraceID, e.Timestamp, string(e.ActionType), e.ActionParams, string(e.Requester),
		string(e.PolicyResult.Decision), e.PolicyResult.MatchedPolicy, e.PolicyResult.Reason,
		e.ProposalID, e.ContentHash, e.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("audit: append to postgres: %w", err)
	}
	return nil
}

// AttachExecution records the execution outcome for a previously-appended
// entry. The in-memory Log is the source of truth for write-once
// enforcement; this call is expected to happen at most once per id.
func (a *PostgresArchive) AttachExecution(ctx context.Context, id uint64, result contracts.ExecutionResult) error {
	const query = `
	UPDATE audit_entries
	SET execution_success = $2, execution_tx_hash = $3, execution_error = $4
	WHERE id = $1`
	res, err := a.db.ExecContext(ctx, query, id, result.Success, result.TxHash, result.Error)
	if err != nil {
		return fmt.Errorf("audit: attach execution in postgres: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("audit: entry %d not found in postgres archive", id)
	}
	return nil
}
