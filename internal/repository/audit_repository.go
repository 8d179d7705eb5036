package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// AuditRepository persists append-only audit entries. There are no read or
// update paths in the service; entries are write-only from this subsystem.
type AuditRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *pgxpool.Pool, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{db: db, log: log}
}

// Append inserts an audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit_log (user_id, action, resource_type, resource_id, ip_address, user_agent, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.IPAddress,
		entry.UserAgent,
		entry.Details,
		entry.OccurredAt,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}
