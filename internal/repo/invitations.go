package repo

import (
	"context"
	"database/sql"

	"intakeline/internal/domain"
)

const invitationColumns = `id,session_id,email,idempotency_key,status,COALESCE(error_kind,'') AS error_kind,COALESCE(error_message,'') AS error_message,COALESCE(meeting_link,'') AS meeting_link,scheduled_for,COALESCE(provider_message_id,'') AS provider_message_id,actor_id,created_at,delivered_at`

func scanInvitation(row rowScanner) (domain.Invitation, error) {
	var (
		inv         domain.Invitation
		deliveredAt sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.SessionID, &inv.Email, &inv.IdempotencyKey, &inv.Status, &inv.ErrorKind, &inv.Error,
		&inv.MeetingLink, &inv.ScheduledFor, &inv.ProviderMessageID, &inv.ActorID, &inv.CreatedAt, &deliveredAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	inv.DeliveredAt = stringPtr(deliveredAt)
	return inv, err
}

func (r Repo) InsertInvitation(ctx context.Context, inv domain.Invitation) error {
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO invitations(id,session_id,email,idempotency_key,status,error_kind,error_message,meeting_link,scheduled_for,provider_message_id,actor_id,created_at,delivered_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		inv.ID, inv.SessionID, inv.Email, inv.IdempotencyKey, inv.Status, nullable(inv.ErrorKind), nullable(inv.Error), nullable(inv.MeetingLink),
		inv.ScheduledFor, nullable(inv.ProviderMessageID), inv.ActorID, inv.CreatedAt, nullableStringPtr(inv.DeliveredAt))
	return err
}

func (r Repo) ListInvitations(ctx context.Context, sessionID string) ([]domain.Invitation, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+invitationColumns+` FROM invitations WHERE session_id=? ORDER BY created_at ASC, id ASC`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// DeliveredInvitation returns the first successful delivery recorded under the idempotency key.
func (r Repo) DeliveredInvitation(ctx context.Context, idempotencyKey string) (domain.Invitation, error) {
	return scanInvitation(r.DB.QueryRowContext(ctx, r.q(`SELECT `+invitationColumns+` FROM invitations WHERE idempotency_key=? AND status=? ORDER BY created_at ASC, id ASC LIMIT 1`),
		idempotencyKey, domain.InvitationDelivered))
}
