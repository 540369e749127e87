package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

// TicketMessageRepository manages the append-only ticket message log.
type TicketMessageRepository interface {
	Create(ctx context.Context, msg *domain.TicketMessage) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)
	// ExistsSince reports whether an identical message was stored at or
	// after since.
	ExistsSince(ctx context.Context, ticketID string, author domain.MessageAuthorType, text string, since time.Time) (bool, error)
	// HasPendingApproval reports whether the latest approval request has
	// not been answered by the customer yet.
	HasPendingApproval(ctx context.Context, ticketID string) (bool, error)
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}
	const query = `
        INSERT INTO ticket_messages (id, ticket_id, author_type, author_name, message, metadata, internal_only, quick_reply_options)
        VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.AuthorType,
		msg.AuthorName,
		msg.Message,
		string(metadata),
		msg.InternalOnly,
		msg.QuickReplyOptions,
	).Scan(&msg.CreatedAt)
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	const query = `
        SELECT id, ticket_id, author_type, author_name, message, metadata, internal_only, quick_reply_options, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		var (
			msg      domain.TicketMessage
			metadata []byte
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.AuthorType,
			&msg.AuthorName,
			&msg.Message,
			&metadata,
			&msg.InternalOnly,
			&msg.QuickReplyOptions,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (r *ticketMessageRepository) ExistsSince(ctx context.Context, ticketID string, author domain.MessageAuthorType, text string, since time.Time) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM ticket_messages
            WHERE ticket_id=$1 AND author_type=$2 AND message=$3 AND created_at >= $4)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, ticketID, author, text, since).Scan(&exists)
	return exists, err
}

func (r *ticketMessageRepository) HasPendingApproval(ctx context.Context, ticketID string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM ticket_messages req
            WHERE req.ticket_id=$1
              AND req.metadata->>'kind'=$2
              AND NOT EXISTS (
                  SELECT 1 FROM ticket_messages reply
                  WHERE reply.ticket_id=req.ticket_id
                    AND reply.author_type=$3
                    AND reply.created_at > req.created_at))`
	var pending bool
	err := r.pool.QueryRow(ctx, query, ticketID, domain.MessageKindApprovalRequest, domain.AuthorTypeCustomer).Scan(&pending)
	return pending, err
}
