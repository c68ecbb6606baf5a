package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatewarden/gatewarden/internal/model"
)

// auditRow maps 1:1 to the audit_records table; detail is JSON-encoded.
type auditRow struct {
	ID           string    `db:"id"`
	Actor        string    `db:"actor"`
	Action       string    `db:"action"`
	ResourceType string    `db:"resource_type"`
	ResourceID   string    `db:"resource_id"`
	Outcome      string    `db:"outcome"`
	DetailJSON   string    `db:"detail"`
	Origin       string    `db:"origin"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r auditRow) toModel() (model.AuditRecord, error) {
	var detail map[string]string
	if r.DetailJSON != "" {
		if err := json.Unmarshal([]byte(r.DetailJSON), &detail); err != nil {
			return model.AuditRecord{}, fmt.Errorf("unmarshal audit detail: %w", err)
		}
	}
	return model.AuditRecord{
		ID:           r.ID,
		Actor:        r.Actor,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Outcome:      r.Outcome,
		Detail:       detail,
		Origin:       r.Origin,
		CreatedAt:    r.CreatedAt,
	}, nil
}

// AppendAudit writes one immutable audit record. There is no update or
// delete path for audit rows.
func (s *Store) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	if rec.Actor == "" {
		rec.Actor = model.ActorUnknown
	}
	if rec.ID == "" {
		rec.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}

	detailJSON := ""
	if len(rec.Detail) > 0 {
		b, err := json.Marshal(rec.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detailJSON = string(b)
	}

	row := auditRow{
		ID:           rec.ID,
		Actor:        rec.Actor,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Outcome:      rec.Outcome,
		DetailJSON:   detailJSON,
		Origin:       rec.Origin,
		CreatedAt:    rec.CreatedAt,
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	const q = `INSERT INTO audit_records
		(id, actor, action, resource_type, resource_id, outcome, detail, origin, created_at)
		VALUES
		(:id, :actor, :action, :resource_type, :resource_id, :outcome, :detail, :origin, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// AuditQuery filters ListAudit. Zero values mean "no filter".
type AuditQuery struct {
	Actor  string
	Action string
	Since  time.Time
	Until  time.Time
	Limit  int
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// ListAudit returns audit records newest first, filtered by the query.
// The (actor, created_at) index serves the common "what did this subject
// do recently" inspection.
func (s *Store) ListAudit(ctx context.Context, aq AuditQuery) ([]model.AuditRecord, error) {
	var conds []string
	var args []any

	if aq.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, aq.Actor)
	}
	if aq.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, aq.Action)
	}
	if !aq.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, aq.Since.UTC().Truncate(time.Second))
	}
	if !aq.Until.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, aq.Until.UTC().Truncate(time.Second))
	}

	limit := aq.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	query := "SELECT * FROM audit_records"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if s.driver == DriverSQLServer {
		query += " OFFSET 0 ROWS FETCH NEXT ? ROWS ONLY"
	} else {
		query += " LIMIT ?"
	}
	args = append(args, limit)

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}

	records := make([]model.AuditRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// CountAudit reports the total number of audit records.
func (s *Store) CountAudit(ctx context.Context) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM audit_records"); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return count, nil
}
