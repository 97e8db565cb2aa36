package proposal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/chainguard/core/pkg/contracts"
)

// SQLitePersister durably mirrors proposal mutations to an embedded SQLite
// database, for deployments that want durability without a Postgres
// server: migrate-on-open, INSERT/SELECT-by-primary-key, the same shape a
// receipt store would use, adapted to proposal snapshots (the full
// contracts.Proposal is stored as JSON per row rather than
// column-per-field, since Action is a sum type).
type SQLitePersister struct {
	db *sql.DB
}

func NewSQLitePersister(db *sql.DB) (*SQLitePersister, error) {
	p := &SQLitePersister{db: db}
	if err := p.migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *SQLitePersister) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS proposals (
		id INTEGER PRIMARY KEY,
		status TEXT NOT NULL,
		snapshot JSON NOT NULL
	);`
	_, err := p.db.ExecContext(context.Background(), query)
	return err
}

// proposalRow is the JSON-serializable view of a Proposal. Action is
// stored through actionEnvelope since contracts.Action is a sealed
// interface with no exported concrete type to unmarshal into directly.
type proposalRow struct {
	ID                 uint64                `json:"id"`
	CorrelationID      string                `json:"correlation_id"`
	ActionType         contracts.ActionType  `json:"action_type"`
	Action             json.RawMessage       `json:"action"`
	Requester          contracts.Principal   `json:"requester"`
	CreatedAt          uint64                `json:"created_at"`
	ExpiresAt          uint64                `json:"expires_at"`
	RequiredSignatures uint32                `json:"required_signatures"`
	FromRoles          []contracts.Role      `json:"from_roles,omitempty"`
	Signatures         []contracts.Signature `json:"signatures"`
	Status             contracts.ProposalStatus `json:"status"`
}

func toRow(p *contracts.Proposal) (proposalRow, error) {
	raw, err := json.Marshal(p.Action)
	if err != nil {
		return proposalRow{}, fmt.Errorf("marshal action: %w", err)
	}
	return proposalRow{
		ID:                 p.ID,
		CorrelationID:      p.CorrelationID,
		ActionType:         p.Action.ActionType(),
		Action:             raw,
		Requester:          p.Requester,
		CreatedAt:          p.CreatedAt,
		ExpiresAt:          p.ExpiresAt,
		RequiredSignatures: p.RequiredSignatures,
		FromRoles:          p.FromRoles,
		Signatures:         p.Signatures,
		Status:             p.Status,
	}, nil
}

func fromRow(row proposalRow) (*contracts.Proposal, error) {
	action, err := decodeAction(row.ActionType, row.Action)
	if err != nil {
		return nil, err
	}
	return &contracts.Proposal{
		ID:                 row.ID,
		CorrelationID:      row.CorrelationID,
		Action:             action,
		Requester:          row.Requester,
		CreatedAt:          row.CreatedAt,
		ExpiresAt:          row.ExpiresAt,
		RequiredSignatures: row.RequiredSignatures,
		FromRoles:          row.FromRoles,
		Signatures:         row.Signatures,
		Status:             row.Status,
	}, nil
}

func decodeAction(t contracts.ActionType, raw json.RawMessage) (contracts.Action, error) {
	switch t {
	case contracts.ActionTransfer:
		var a contracts.Transfer
		err := json.Unmarshal(raw, &a)
		return a, err
	case contracts.ActionSwap:
		var a contracts.Swap
		err := json.Unmarshal(raw, &a)
		return a, err
	case contracts.ActionApproveToken:
		var a contracts.ApproveToken
		err := json.Unmarshal(raw, &a)
		return a, err
	case contracts.ActionBitcoinTransfer:
		var a contracts.BitcoinTransfer
		err := json.Unmarshal(raw, &a)
		return a, err
	default:
		return nil, fmt.Errorf("decode action: unrecognized action type %q", t)
	}
}

// Persist upserts a proposal snapshot. Store calls this after every
// in-memory mutation once SetPersister attaches one, so SQLite mirrors the
// authoritative in-memory state.
func (p *SQLitePersister) Persist(ctx context.Context, proposal *contracts.Proposal) error {
	row, err := toRow(proposal)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	const query = `
	INSERT INTO proposals (id, status, snapshot) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET status = excluded.status, snapshot = excluded.snapshot`
	_, err = p.db.ExecContext(ctx, query, proposal.ID, string(proposal.Status), string(snapshot))
	return err
}

func (p *SQLitePersister) Load(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	const query = `SELECT snapshot FROM proposals WHERE id = ?`
	var snapshot string
	if err := p.db.QueryRowContext(ctx, query, id).Scan(&snapshot); err != nil {
		return nil, fmt.Errorf("load proposal %d: %w", id, err)
	}
	var row proposalRow
	if err := json.Unmarshal([]byte(snapshot), &row); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return fromRow(row)
}

// LoadAll reconstructs every persisted proposal, for warming the in-memory
// store back up on process restart.
func (p *SQLitePersister) LoadAll(ctx context.Context) ([]*contracts.Proposal, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT snapshot FROM proposals ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Proposal
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		var row proposalRow
		if err := json.Unmarshal([]byte(snapshot), &row); err != nil {
			return nil, err
		}
		p, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
