package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

// JourneyRepository handles journey definition storage. Trigger and step
// graphs are stored as JSONB since the engine always loads a definition whole.
type JourneyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const journeyColumns = `
	id
  , name
  , description
  , status
  , trigger
  , steps
  , reentry_policy
  , max_attempts
  , created_at
  , updated_at
  , activated_at
`

func (r *JourneyRepository) GetAll(ctx context.Context) ([]*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys ORDER BY created_at DESC`

	return r.queryJourneys(ctx, query)
}

func (r *JourneyRepository) GetActive(ctx context.Context) ([]*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE status = $1 ORDER BY created_at DESC`

	return r.queryJourneys(ctx, query, string(models.JourneyStatusActive))
}

func (r *JourneyRepository) queryJourneys(ctx context.Context, query string, args ...any) ([]*models.Journey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journeys: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}

		journeys = append(journeys, journey)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating journeys: %w", err)
	}

	return journeys, nil
}

func (r *JourneyRepository) GetByID(ctx context.Context, id string) (*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1`

	journey, err := scanJourney(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJourneyNotFound
		}

		return nil, fmt.Errorf("failed to scan journey: %w", err)
	}

	return journey, nil
}

func (r *JourneyRepository) Save(ctx context.Context, journey *models.Journey) error {
	trigger, err := json.Marshal(journey.Trigger)
	if err != nil {
		return fmt.Errorf("failed to encode trigger: %w", err)
	}

	steps, err := json.Marshal(journey.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	now := time.Now().UTC()
	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	query := `
		INSERT INTO journeys (id, name, description, status, trigger, steps, reentry_policy, max_attempts, created_at, updated_at, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , status = EXCLUDED.status
		  , trigger = EXCLUDED.trigger
		  , steps = EXCLUDED.steps
		  , reentry_policy = EXCLUDED.reentry_policy
		  , max_attempts = EXCLUDED.max_attempts
		  , updated_at = EXCLUDED.updated_at
		  , activated_at = EXCLUDED.activated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		journey.ID,
		journey.Name,
		journey.Description,
		string(journey.Status),
		trigger,
		steps,
		string(journey.Reentry()),
		journey.MaxAttempts,
		journey.CreatedAt,
		journey.UpdatedAt,
		journey.ActivatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save journey %s: %w", journey.ID, err)
	}

	return nil
}

func (r *JourneyRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM journeys WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete journey %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrJourneyNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (*models.Journey, error) {
	var (
		journey       models.Journey
		status        string
		reentryPolicy string
		triggerRaw    []byte
		stepsRaw      []byte
	)

	err := row.Scan(
		&journey.ID,
		&journey.Name,
		&journey.Description,
		&status,
		&triggerRaw,
		&stepsRaw,
		&reentryPolicy,
		&journey.MaxAttempts,
		&journey.CreatedAt,
		&journey.UpdatedAt,
		&journey.ActivatedAt,
	)
	if err != nil {
		return nil, err
	}

	journey.Status = models.JourneyStatus(status)
	journey.ReentryPolicy = models.ReentryPolicy(reentryPolicy)

	err = json.Unmarshal(triggerRaw, &journey.Trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to decode trigger: %w", err)
	}

	err = json.Unmarshal(stepsRaw, &journey.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}

	return &journey, nil
}
