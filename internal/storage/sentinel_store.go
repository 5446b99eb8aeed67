package storage

import (
	"context"
	"fmt"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/sentinel"
)

const securityEventColumns = `id, event_type, user_id, risk_score, action, reasoning,
	amount, category, merchant, metadata, created_at`

// SentinelStore is the sentinel-facing slice of the database. It is a
// separate receiver because sentinel.EventStore and breakglass.Store both
// name a SaveEvent method, so *DB cannot satisfy both.
type SentinelStore struct {
	d *DB
}

// Sentinel returns the sentinel-facing view of the database.
func (d *DB) Sentinel() *SentinelStore {
	return &SentinelStore{d: d}
}

func (s *SentinelStore) SaveEvent(ctx context.Context, e *sentinel.SecurityEvent) error {
	metadata, err := jsonCol(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.d.exec(ctx, `INSERT INTO security_events
		(id, event_type, user_id, risk_score, action, reasoning, amount, category, merchant, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EventType, e.UserID, e.RiskScore, e.Action, e.Reasoning,
		e.Amount, e.Category, e.Merchant, metadata, timeCol(e.CreatedAt))
	return err
}

func (s *SentinelStore) ListEvents(ctx context.Context, f sentinel.EventFilter) ([]*sentinel.SecurityEvent, error) {
	query := `SELECT ` + securityEventColumns + ` FROM security_events WHERE 1=1`
	var args []interface{}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.d.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*sentinel.SecurityEvent
	for rows.Next() {
		var (
			e         sentinel.SecurityEvent
			metadata  string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.UserID, &e.RiskScore, &e.Action,
			&e.Reasoning, &e.Amount, &e.Category, &e.Merchant, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan security event: %v", core.ErrStorageFailure, err)
		}
		if err := scanJSONMap(metadata, &e.Metadata); err != nil {
			return nil, err
		}
		if err := scanTime(createdAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return out, nil
}

func (s *SentinelStore) SaveApproval(ctx context.Context, a *sentinel.PendingApproval) error {
	_, err := s.d.exec(ctx, `INSERT INTO pending_approvals
		(id, user_id, amount, category, merchant, risk_level, risk_score, reasoning, resolved, resolved_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Amount, a.Category, a.Merchant, a.RiskLevel, a.RiskScore,
		a.Reasoning, boolCol(a.Resolved), a.ResolvedBy, timeCol(a.CreatedAt))
	return err
}

func (s *SentinelStore) ListOpenApprovals(ctx context.Context, userID string) ([]*sentinel.PendingApproval, error) {
	query := `SELECT id, user_id, amount, category, merchant, risk_level, risk_score,
		reasoning, resolved, resolved_by, created_at
		FROM pending_approvals WHERE resolved = 0`
	var args []interface{}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.d.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*sentinel.PendingApproval
	for rows.Next() {
		var (
			a         sentinel.PendingApproval
			resolved  int
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Amount, &a.Category, &a.Merchant,
			&a.RiskLevel, &a.RiskScore, &a.Reasoning, &resolved, &a.ResolvedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan approval: %v", core.ErrStorageFailure, err)
		}
		a.Resolved = resolved != 0
		if err := scanTime(createdAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return out, nil
}

func (s *SentinelStore) ResolveApproval(ctx context.Context, id, resolvedBy string) error {
	res, err := s.d.exec(ctx,
		`UPDATE pending_approvals SET resolved = 1, resolved_by = ? WHERE id = ?`,
		resolvedBy, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

var _ sentinel.EventStore = (*SentinelStore)(nil)
var _ sentinel.ApprovalStore = (*SentinelStore)(nil)
