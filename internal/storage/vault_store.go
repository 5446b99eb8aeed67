package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/vault"
)

const poaColumns = `id, principal_id, agent_id, scope, services, spend_limit,
	created_at, expires_at, active, revoked_at, revocation_reason, creator_id`

// SavePOA implements vault.POAStore.
func (d *DB) SavePOA(ctx context.Context, p *vault.POA) error {
	services, err := jsonCol(p.Services)
	if err != nil {
		return err
	}
	_, err = d.exec(ctx, `INSERT INTO smart_poas
		(id, principal_id, agent_id, scope, services, spend_limit,
		 created_at, expires_at, active, revoked_at, revocation_reason, creator_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PrincipalID, p.AgentID, p.Scope, services, p.SpendLimit,
		timeCol(p.CreatedAt), timeCol(p.ExpiresAt), boolCol(p.Active),
		timePtrCol(p.RevokedAt), p.RevokeNote, p.CreatorID)
	return err
}

// GetPOA implements vault.POAStore.
func (d *DB) GetPOA(ctx context.Context, id string) (*vault.POA, error) {
	row := d.queryRow(ctx, `SELECT `+poaColumns+` FROM smart_poas WHERE id = ?`, id)
	p, err := scanPOA(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return p, err
}

// ListPOAsByPrincipal implements vault.POAStore.
func (d *DB) ListPOAsByPrincipal(ctx context.Context, principalID string) ([]*vault.POA, error) {
	rows, err := d.query(ctx,
		`SELECT `+poaColumns+` FROM smart_poas WHERE principal_id = ? ORDER BY created_at`,
		principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*vault.POA
	for rows.Next() {
		p, err := scanPOA(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return out, nil
}

// UpdatePOA implements vault.POAStore.
func (d *DB) UpdatePOA(ctx context.Context, p *vault.POA) error {
	services, err := jsonCol(p.Services)
	if err != nil {
		return err
	}
	res, err := d.exec(ctx, `UPDATE smart_poas SET
		principal_id = ?, agent_id = ?, scope = ?, services = ?, spend_limit = ?,
		created_at = ?, expires_at = ?, active = ?, revoked_at = ?,
		revocation_reason = ?, creator_id = ?
		WHERE id = ?`,
		p.PrincipalID, p.AgentID, p.Scope, services, p.SpendLimit,
		timeCol(p.CreatedAt), timeCol(p.ExpiresAt), boolCol(p.Active),
		timePtrCol(p.RevokedAt), p.RevokeNote, p.CreatorID, p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeletePOA implements vault.POAStore. Deleting an absent POA is a no-op.
func (d *DB) DeletePOA(ctx context.Context, id string) error {
	_, err := d.exec(ctx, `DELETE FROM smart_poas WHERE id = ?`, id)
	return err
}

func scanPOA(scan func(...interface{}) error) (*vault.POA, error) {
	var (
		p         vault.POA
		services  string
		createdAt string
		expiresAt string
		active    int
		revokedAt sql.NullString
	)
	err := scan(&p.ID, &p.PrincipalID, &p.AgentID, &p.Scope, &services, &p.SpendLimit,
		&createdAt, &expiresAt, &active, &revokedAt, &p.RevokeNote, &p.CreatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan poa: %v", core.ErrStorageFailure, err)
	}
	if err := scanJSONStrings(services, &p.Services); err != nil {
		return nil, err
	}
	if err := scanTime(createdAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := scanTime(expiresAt, &p.ExpiresAt); err != nil {
		return nil, err
	}
	p.Active = active != 0
	if err := scanTimePtr(revokedAt, &p.RevokedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

const tokenColumns = `id, poa_id, service_name, kind, ciphertext, created_at, expires_at, last_used_at`

// SaveToken implements vault.TokenStore.
func (d *DB) SaveToken(ctx context.Context, tk *vault.EncryptedToken) error {
	_, err := d.exec(ctx, `INSERT INTO encrypted_tokens
		(id, poa_id, service_name, kind, ciphertext, created_at, expires_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tk.ID, tk.POAID, tk.ServiceName, tk.Kind, tk.Ciphertext,
		timeCol(tk.CreatedAt), timePtrCol(tk.ExpiresAt), timePtrCol(tk.LastUsedAt))
	return err
}

// GetToken implements vault.TokenStore.
func (d *DB) GetToken(ctx context.Context, id string) (*vault.EncryptedToken, error) {
	row := d.queryRow(ctx, `SELECT `+tokenColumns+` FROM encrypted_tokens WHERE id = ?`, id)
	tk, err := scanToken(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return tk, err
}

// UpdateToken implements vault.TokenStore.
func (d *DB) UpdateToken(ctx context.Context, tk *vault.EncryptedToken) error {
	res, err := d.exec(ctx, `UPDATE encrypted_tokens SET
		poa_id = ?, service_name = ?, kind = ?, ciphertext = ?,
		created_at = ?, expires_at = ?, last_used_at = ?
		WHERE id = ?`,
		tk.POAID, tk.ServiceName, tk.Kind, tk.Ciphertext,
		timeCol(tk.CreatedAt), timePtrCol(tk.ExpiresAt), timePtrCol(tk.LastUsedAt), tk.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteTokensForPOA implements vault.TokenStore.
func (d *DB) DeleteTokensForPOA(ctx context.Context, poaID string) (int, error) {
	res, err := d.exec(ctx, `DELETE FROM encrypted_tokens WHERE poa_id = ?`, poaID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return int(n), nil
}

func scanToken(scan func(...interface{}) error) (*vault.EncryptedToken, error) {
	var (
		tk         vault.EncryptedToken
		createdAt  string
		expiresAt  sql.NullString
		lastUsedAt sql.NullString
	)
	err := scan(&tk.ID, &tk.POAID, &tk.ServiceName, &tk.Kind, &tk.Ciphertext,
		&createdAt, &expiresAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan token: %v", core.ErrStorageFailure, err)
	}
	if err := scanTime(createdAt, &tk.CreatedAt); err != nil {
		return nil, err
	}
	if err := scanTimePtr(expiresAt, &tk.ExpiresAt); err != nil {
		return nil, err
	}
	if err := scanTimePtr(lastUsedAt, &tk.LastUsedAt); err != nil {
		return nil, err
	}
	return &tk, nil
}

const presentationColumns = `id, poa_id, recipient, method, code, verified, verified_at, created_at`

// SavePresentation implements vault.PresentationStore.
func (d *DB) SavePresentation(ctx context.Context, p *vault.Presentation) error {
	_, err := d.exec(ctx, `INSERT INTO credential_presentations
		(id, poa_id, recipient, method, code, verified, verified_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.POAID, p.To, p.Method, p.Code, boolCol(p.Verified),
		timePtrCol(p.VerifiedAt), timeCol(p.CreatedAt))
	return err
}

// GetPresentationByCode implements vault.PresentationStore.
func (d *DB) GetPresentationByCode(ctx context.Context, code string) (*vault.Presentation, error) {
	row := d.queryRow(ctx,
		`SELECT `+presentationColumns+` FROM credential_presentations WHERE code = ?`, code)
	p, err := scanPresentation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return p, err
}

// ListPresentations implements vault.PresentationStore.
func (d *DB) ListPresentations(ctx context.Context, poaID string) ([]*vault.Presentation, error) {
	rows, err := d.query(ctx,
		`SELECT `+presentationColumns+` FROM credential_presentations WHERE poa_id = ? ORDER BY created_at`,
		poaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*vault.Presentation
	for rows.Next() {
		p, err := scanPresentation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return out, nil
}

// UpdatePresentation implements vault.PresentationStore.
func (d *DB) UpdatePresentation(ctx context.Context, p *vault.Presentation) error {
	res, err := d.exec(ctx, `UPDATE credential_presentations SET
		poa_id = ?, recipient = ?, method = ?, code = ?, verified = ?, verified_at = ?, created_at = ?
		WHERE id = ?`,
		p.POAID, p.To, p.Method, p.Code, boolCol(p.Verified),
		timePtrCol(p.VerifiedAt), timeCol(p.CreatedAt), p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanPresentation(scan func(...interface{}) error) (*vault.Presentation, error) {
	var (
		p          vault.Presentation
		verified   int
		verifiedAt sql.NullString
		createdAt  string
	)
	err := scan(&p.ID, &p.POAID, &p.To, &p.Method, &p.Code, &verified, &verifiedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan presentation: %v", core.ErrStorageFailure, err)
	}
	p.Verified = verified != 0
	if err := scanTimePtr(verifiedAt, &p.VerifiedAt); err != nil {
		return nil, err
	}
	if err := scanTime(createdAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
