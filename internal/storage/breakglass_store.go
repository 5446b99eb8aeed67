package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/breakglass"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

const breakGlassColumns = `id, audit_entry_id, poa_id, trig, details, status, advocate_id, mode,
	otp_hash, otp_sent_at, otp_verified_at,
	liveness_required, liveness_verified, liveness_verified_at, liveness_data,
	approved_at, approved_by, denied_at, denied_by, denial_reason, created_at, expires_at`

// SaveEvent implements breakglass.Store.
func (d *DB) SaveEvent(ctx context.Context, e *breakglass.Event) error {
	details, err := jsonCol(e.Details)
	if err != nil {
		return err
	}
	liveness, err := jsonCol(e.LivenessData)
	if err != nil {
		return err
	}
	_, err = d.exec(ctx, `INSERT INTO break_glass_events
		(id, audit_entry_id, poa_id, trig, details, status, advocate_id, mode,
		 otp_hash, otp_sent_at, otp_verified_at,
		 liveness_required, liveness_verified, liveness_verified_at, liveness_data,
		 approved_at, approved_by, denied_at, denied_by, denial_reason, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AuditEntryID, e.POAID, e.Trigger, details, e.Status, e.AdvocateID, e.Mode,
		e.OTPHash, timeCol(e.OTPSentAt), timePtrCol(e.OTPVerifiedAt),
		boolCol(e.LivenessRequired), boolCol(e.LivenessVerified),
		timePtrCol(e.LivenessVerifiedAt), liveness,
		timePtrCol(e.ApprovedAt), e.ApprovedBy, timePtrCol(e.DeniedAt), e.DeniedBy,
		e.DenyReason, timeCol(e.CreatedAt), timeCol(e.ExpiresAt))
	return err
}

// GetEvent implements breakglass.Store.
func (d *DB) GetEvent(ctx context.Context, id string) (*breakglass.Event, error) {
	row := d.queryRow(ctx, `SELECT `+breakGlassColumns+` FROM break_glass_events WHERE id = ?`, id)
	e, err := scanBreakGlass(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return e, err
}

// UpdateEvent implements breakglass.Store.
func (d *DB) UpdateEvent(ctx context.Context, e *breakglass.Event) error {
	details, err := jsonCol(e.Details)
	if err != nil {
		return err
	}
	liveness, err := jsonCol(e.LivenessData)
	if err != nil {
		return err
	}
	res, err := d.exec(ctx, `UPDATE break_glass_events SET
		audit_entry_id = ?, poa_id = ?, trig = ?, details = ?, status = ?,
		advocate_id = ?, mode = ?, otp_hash = ?, otp_sent_at = ?, otp_verified_at = ?,
		liveness_required = ?, liveness_verified = ?, liveness_verified_at = ?, liveness_data = ?,
		approved_at = ?, approved_by = ?, denied_at = ?, denied_by = ?, denial_reason = ?,
		created_at = ?, expires_at = ?
		WHERE id = ?`,
		e.AuditEntryID, e.POAID, e.Trigger, details, e.Status,
		e.AdvocateID, e.Mode, e.OTPHash, timeCol(e.OTPSentAt), timePtrCol(e.OTPVerifiedAt),
		boolCol(e.LivenessRequired), boolCol(e.LivenessVerified),
		timePtrCol(e.LivenessVerifiedAt), liveness,
		timePtrCol(e.ApprovedAt), e.ApprovedBy, timePtrCol(e.DeniedAt), e.DeniedBy,
		e.DenyReason, timeCol(e.CreatedAt), timeCol(e.ExpiresAt), e.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListPending implements breakglass.Store.
func (d *DB) ListPending(ctx context.Context) ([]*breakglass.Event, error) {
	rows, err := d.query(ctx,
		`SELECT `+breakGlassColumns+` FROM break_glass_events WHERE status = ? ORDER BY created_at`,
		breakglass.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*breakglass.Event
	for rows.Next() {
		e, err := scanBreakGlass(rows.Scan)
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

func scanBreakGlass(scan func(...interface{}) error) (*breakglass.Event, error) {
	var (
		e            breakglass.Event
		details      string
		otpSentAt    string
		otpVerified  sql.NullString
		livenessReq  int
		livenessOK   int
		livenessAt   sql.NullString
		livenessData string
		approvedAt   sql.NullString
		deniedAt     sql.NullString
		createdAt    string
		expiresAt    string
	)
	err := scan(&e.ID, &e.AuditEntryID, &e.POAID, &e.Trigger, &details, &e.Status,
		&e.AdvocateID, &e.Mode, &e.OTPHash, &otpSentAt, &otpVerified,
		&livenessReq, &livenessOK, &livenessAt, &livenessData,
		&approvedAt, &e.ApprovedBy, &deniedAt, &e.DeniedBy, &e.DenyReason,
		&createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan break-glass event: %v", core.ErrStorageFailure, err)
	}
	if err := scanJSONMap(details, &e.Details); err != nil {
		return nil, err
	}
	if err := scanTime(otpSentAt, &e.OTPSentAt); err != nil {
		return nil, err
	}
	if err := scanTimePtr(otpVerified, &e.OTPVerifiedAt); err != nil {
		return nil, err
	}
	e.LivenessRequired = livenessReq != 0
	e.LivenessVerified = livenessOK != 0
	if err := scanTimePtr(livenessAt, &e.LivenessVerifiedAt); err != nil {
		return nil, err
	}
	if err := scanJSONMap(livenessData, &e.LivenessData); err != nil {
		return nil, err
	}
	if err := scanTimePtr(approvedAt, &e.ApprovedAt); err != nil {
		return nil, err
	}
	if err := scanTimePtr(deniedAt, &e.DeniedAt); err != nil {
		return nil, err
	}
	if err := scanTime(createdAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := scanTime(expiresAt, &e.ExpiresAt); err != nil {
		return nil, err
	}
	return &e, nil
}
