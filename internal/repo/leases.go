package repo

import (
	"context"
	"time"
)

// AcquireLease takes the generation lease of a session for owner until expiresAt. An existing
// lease is only replaced once it has expired, so at most one caller wins.
func (r Repo) AcquireLease(ctx context.Context, sessionID, owner string, now, expiresAt time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO generation_leases(session_id,owner_id,acquired_at,expires_at) VALUES (?,?,?,?) ON CONFLICT(session_id) DO UPDATE SET owner_id=excluded.owner_id, acquired_at=excluded.acquired_at, expires_at=excluded.expires_at WHERE generation_leases.expires_at <= ?`),
		sessionID, owner, ts, expiresAt.UTC().Format(time.RFC3339), ts)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease drops the lease if owner still holds it.
func (r Repo) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM generation_leases WHERE session_id=? AND owner_id=?`), sessionID, owner)
	return err
}
