package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

// AutomationEventRepository stores the agents' audit trail.
type AutomationEventRepository interface {
	Create(ctx context.Context, event *domain.AutomationEvent) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.AutomationEvent, error)
}

type automationEventRepository struct {
	pool *pgxpool.Pool
}

// NewAutomationEventRepository builds repository.
func NewAutomationEventRepository(pool *pgxpool.Pool) AutomationEventRepository {
	return &automationEventRepository{pool: pool}
}

func (r *automationEventRepository) Create(ctx context.Context, event *domain.AutomationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	const query = `
        INSERT INTO automation_events (id, ticket_id, agent, event_type, payload)
        VALUES ($1,$2,$3,$4,$5::jsonb)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		event.ID,
		event.TicketID,
		string(event.Agent),
		event.EventType,
		string(payload),
	).Scan(&event.CreatedAt)
}

func (r *automationEventRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.AutomationEvent, error) {
	const query = `
        SELECT id, ticket_id, agent, event_type, payload, created_at
        FROM automation_events WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AutomationEvent
	for rows.Next() {
		var (
			event   domain.AutomationEvent
			payload []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.Agent,
			&event.EventType,
			&payload,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		result = append(result, event)
	}
	return result, rows.Err()
}
