package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

// Postgres reads session types from the session_types table.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres catalog.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const sessionTypeColumns = `id, builder_id, name, price_cents, currency, duration_minutes,
	requires_payment, requires_auth, COALESCE(scheduling_event_type_uri, '')`

func (p *Postgres) get(ctx context.Context, where string, arg string) (*model.SessionType, error) {
	var st model.SessionType
	err := p.db.QueryRow(ctx,
		`SELECT `+sessionTypeColumns+` FROM session_types WHERE `+where,
		arg,
	).Scan(&st.ID, &st.BuilderID, &st.Name, &st.PriceCents, &st.Currency, &st.DurationMinutes,
		&st.RequiresPayment, &st.RequiresAuth, &st.SchedulingEventTypeURI)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session type: %w", err)
	}
	return &st, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*model.SessionType, error) {
	return p.get(ctx, "id = $1", id)
}

func (p *Postgres) ByEventType(ctx context.Context, uri string) (*model.SessionType, error) {
	return p.get(ctx, "scheduling_event_type_uri = $1", uri)
}
