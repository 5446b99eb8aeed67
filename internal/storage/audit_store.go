package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

const auditColumns = `id, poa_id, action_type, ts, request_details, service_name,
	amount, decision, reasoning, signature, advocate_notified, advocate_notified_at`

// AppendEntry implements audit.Store.
func (d *DB) AppendEntry(ctx context.Context, e *audit.Entry) (int64, error) {
	details, err := jsonCol(e.RequestDetails)
	if err != nil {
		return 0, err
	}

	if d.postgres {
		var id int64
		err := d.queryRow(ctx, `INSERT INTO audit_entries
			(poa_id, action_type, ts, request_details, service_name, amount,
			 decision, reasoning, signature, advocate_notified, advocate_notified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			e.POAID, e.ActionType, timeCol(e.Timestamp), details, e.ServiceName,
			e.Amount, e.Decision, e.Reasoning, e.Signature,
			boolCol(e.AdvocateNotified), timePtrCol(e.AdvocateNotifiedAt),
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("%w: append entry: %v", core.ErrStorageFailure, err)
		}
		return id, nil
	}

	res, err := d.exec(ctx, `INSERT INTO audit_entries
		(poa_id, action_type, ts, request_details, service_name, amount,
		 decision, reasoning, signature, advocate_notified, advocate_notified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.POAID, e.ActionType, timeCol(e.Timestamp), details, e.ServiceName,
		e.Amount, e.Decision, e.Reasoning, e.Signature,
		boolCol(e.AdvocateNotified), timePtrCol(e.AdvocateNotifiedAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: append entry id: %v", core.ErrStorageFailure, err)
	}
	return id, nil
}

// GetEntry implements audit.Store.
func (d *DB) GetEntry(ctx context.Context, id int64) (*audit.Entry, error) {
	row := d.queryRow(ctx, `SELECT `+auditColumns+` FROM audit_entries WHERE id = ?`, id)
	e, err := scanAuditEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return e, err
}

// ListEntries implements audit.Store. Results are ordered by id ascending.
func (d *DB) ListEntries(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE 1=1`
	var args []interface{}
	if f.POAID != "" {
		query += ` AND poa_id = ?`
		args = append(args, f.POAID)
	}
	if f.ActionType != "" {
		query += ` AND action_type = ?`
		args = append(args, f.ActionType)
	}
	if f.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, f.Decision)
	}
	if !f.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, timeCol(f.Since))
	}
	if !f.Until.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, timeCol(f.Until))
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return out, nil
}

// SetAdvocateNotified implements audit.Store.
func (d *DB) SetAdvocateNotified(ctx context.Context, id int64, at time.Time) error {
	res, err := d.exec(ctx,
		`UPDATE audit_entries SET advocate_notified = 1, advocate_notified_at = ? WHERE id = ?`,
		timeCol(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func scanAuditEntry(scan func(...interface{}) error) (*audit.Entry, error) {
	var (
		e          audit.Entry
		ts         string
		details    string
		notified   int
		notifiedAt sql.NullString
	)
	err := scan(&e.ID, &e.POAID, &e.ActionType, &ts, &details, &e.ServiceName,
		&e.Amount, &e.Decision, &e.Reasoning, &e.Signature, &notified, &notifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan entry: %v", core.ErrStorageFailure, err)
	}
	if err := scanTime(ts, &e.Timestamp); err != nil {
		return nil, err
	}
	if err := scanJSONMap(details, &e.RequestDetails); err != nil {
		return nil, err
	}
	e.AdvocateNotified = notified != 0
	if err := scanTimePtr(notifiedAt, &e.AdvocateNotifiedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
