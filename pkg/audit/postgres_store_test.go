package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/chainguard/core/pkg/contracts"
)

func TestPostgresArchiveAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").WillReturnResult(sqlmock.NewResult(0, 0))

	archive, err := NewPostgresArchive(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_entries").WillReturnResult(sqlmock.NewResult(1, 1))

	err = archive.Append(context.Background(), contracts.AuditEntry{
		ID:           1,
		TraceID:      "trace-1",
		Timestamp:    100,
		ActionType:   contracts.ActionTransfer,
		ActionParams: `{"chain":"sepolia"}`,
		Requester:    "alice",
		PolicyResult: contracts.PolicyResult{Decision: contracts.DecisionAllowed, MatchedPolicy: "small"},
		ContentHash:  "sha256:abc",
		PrevHash:     "genesis",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchiveAttachExecutionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	archive, err := NewPostgresArchive(db)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE audit_entries").WillReturnResult(sqlmock.NewResult(0, 0))

	err = archive.AttachExecution(context.Background(), 99, contracts.ExecutionResult{Success: true, TxHash: "0x1"})
	require.Error(t, err)
}
