package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

// TicketRepository encapsulates ticket persistence. Tickets are created
// by intake; this service reads them and writes router-owned fields.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListByStatuses(ctx context.Context, statuses []domain.TicketStatus, limit int) ([]domain.Ticket, error)
	Update(ctx context.Context, id string, update domain.TicketUpdate) (*domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, title, description, status, priority, category, source_metadata,
               assigned_agent, escalation_path, created_at, updated_at`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) ListByStatuses(ctx context.Context, statuses []domain.TicketStatus, limit int) ([]domain.Ticket, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses))
	for i, status := range statuses {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE status IN (%s) ORDER BY created_at ASC LIMIT %d`,
		ticketColumns, strings.Join(placeholders, ","), limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

// Update writes only the fields set on update. Escalation entries are
// appended in SQL so concurrent writers never drop each other's entries.
func (r *ticketRepository) Update(ctx context.Context, id string, update domain.TicketUpdate) (*domain.Ticket, error) {
	if update.IsEmpty() {
		return r.GetByID(ctx, id)
	}
	query, args, err := buildTicketUpdate(id, update)
	if err != nil {
		return nil, err
	}
	return scanTicket(r.pool.QueryRow(ctx, query, args...))
}

// buildTicketUpdate renders the UPDATE statement. Source metadata is merged
// key by key into the stored object, so keys written by intake survive.
func buildTicketUpdate(id string, update domain.TicketUpdate) (string, []any, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.Priority != nil {
		add("priority", *update.Priority)
	}
	if update.AssignedAgent != nil {
		add("assigned_agent", string(*update.AssignedAgent))
	}
	if update.SourceMetadata != nil {
		raw, err := json.Marshal(update.SourceMetadata)
		if err != nil {
			return "", nil, fmt.Errorf("encode source metadata: %w", err)
		}
		args = append(args, string(raw))
		sets = append(sets, fmt.Sprintf("source_metadata=COALESCE(source_metadata, '{}'::jsonb) || $%d::jsonb", len(args)))
	}
	if len(update.AppendEscalation) > 0 {
		raw, err := json.Marshal(update.AppendEscalation)
		if err != nil {
			return "", nil, fmt.Errorf("encode escalation entries: %w", err)
		}
		args = append(args, string(raw))
		sets = append(sets, fmt.Sprintf("escalation_path=COALESCE(escalation_path, '[]'::jsonb) || $%d::jsonb", len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tickets SET %s WHERE id=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), ticketColumns)
	return query, args, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket     domain.Ticket
		category   *string
		agent      *string
		metadata   []byte
		escalation []byte
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&category,
		&metadata,
		&agent,
		&escalation,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if category != nil {
		ticket.Category = *category
	}
	if agent != nil && *agent != "" {
		ticket.AssignedAgent = domain.AgentPtr(domain.AgentID(*agent))
	}
	ticket.SourceMetadata = domain.SourceMetadata{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ticket.SourceMetadata); err != nil {
			return nil, fmt.Errorf("decode source metadata: %w", err)
		}
	}
	if len(escalation) > 0 {
		if err := json.Unmarshal(escalation, &ticket.EscalationPath); err != nil {
			return nil, fmt.Errorf("decode escalation path: %w", err)
		}
	}
	return &ticket, nil
}
