package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"evidora.org/internal/ledger"
	"evidora.org/internal/obs"
)

// queryRower covers *sql.DB and *sql.Tx so audit appends can join an
// enclosing business transaction.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func appendAudit(ctx context.Context, q queryRower, e ledger.Entry) (uint64, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = q.QueryRowContext(ctx, `
		insert into audit_log(actor_user_id, actor_role, action, object_type, object_id, metadata)
		values ($1,$2,$3,$4,$5,$6) returning sequence
	`, e.ActorUserID, e.ActorRole, e.Action, e.ObjectType, e.ObjectID, raw).Scan(&seq)
	if err != nil {
		return 0, err
	}
	obs.IncAuditAppended()
	return seq, nil
}

// Append writes a standalone audit entry outside any business transaction.
func (s *Store) Append(ctx context.Context, e ledger.Entry) (uint64, error) {
	if e.ActorUserID == "" || e.ActorRole == "" || e.Action == "" || e.ObjectType == "" || e.ObjectID == "" {
		return 0, ledger.ErrInvalidEntry
	}
	return appendAudit(ctx, s.db, e)
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	limit = ledger.ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		select sequence, ts, actor_user_id, actor_role, action, object_type, object_id, metadata
		from audit_log
		order by sequence desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]ledger.Entry, 0, limit)
	for rows.Next() {
		var (
			e   ledger.Entry
			raw []byte
		)
		if err := rows.Scan(&e.Sequence, &e.Timestamp, &e.ActorUserID, &e.ActorRole, &e.Action, &e.ObjectType, &e.ObjectID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Metadata); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
