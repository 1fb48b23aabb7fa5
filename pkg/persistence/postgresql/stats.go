package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

// StatsRepository maintains the per-journey aggregate counters. Increments go
// through single upsert statements so concurrent executors never lose updates.
type StatsRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// counterColumns whitelists the scalar counters. Counter values come from our
// own code but they still never reach the SQL text unchecked.
var counterColumns = map[persistence.Counter]string{
	persistence.CounterEnrolled:  "enrolled",
	persistence.CounterActive:    "active",
	persistence.CounterCompleted: "completed",
	persistence.CounterFailed:    "failed",
	persistence.CounterExited:    "exited",
}

var channelColumns = map[persistence.ChannelCounter]string{
	persistence.ChannelCounterTriggered: "channel_triggered",
	persistence.ChannelCounterDelivered: "channel_delivered",
}

func (r *StatsRepository) Get(ctx context.Context, journeyID string) (*models.JourneyStats, error) {
	query := `
		SELECT journey_id, enrolled, active, completed, failed, exited, channel_triggered, channel_delivered, updated_at
		FROM journey_stats
		WHERE journey_id = $1
	`

	var (
		stats        models.JourneyStats
		triggeredRaw []byte
		deliveredRaw []byte
	)

	err := r.db.QueryRowContext(ctx, query, journeyID).Scan(
		&stats.JourneyID,
		&stats.Enrolled,
		&stats.Active,
		&stats.Completed,
		&stats.Failed,
		&stats.Exited,
		&triggeredRaw,
		&deliveredRaw,
		&stats.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStatsNotFound
		}

		return nil, fmt.Errorf("failed to get stats for journey %s: %w", journeyID, err)
	}

	err = json.Unmarshal(triggeredRaw, &stats.ChannelTriggered)
	if err != nil {
		return nil, fmt.Errorf("failed to decode triggered counters: %w", err)
	}

	err = json.Unmarshal(deliveredRaw, &stats.ChannelDelivered)
	if err != nil {
		return nil, fmt.Errorf("failed to decode delivered counters: %w", err)
	}

	return &stats, nil
}

func (r *StatsRepository) Increment(ctx context.Context, journeyID string, counter persistence.Counter, delta int64) error {
	column, ok := counterColumns[counter]
	if !ok {
		return fmt.Errorf("unknown stats counter: %s", counter)
	}

	query := fmt.Sprintf(`
		INSERT INTO journey_stats (journey_id, %[1]s, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (journey_id) DO UPDATE SET
			%[1]s = journey_stats.%[1]s + EXCLUDED.%[1]s
		  , updated_at = NOW()
	`, column)

	_, err := r.db.ExecContext(ctx, query, journeyID, delta)
	if err != nil {
		return fmt.Errorf("failed to increment %s for journey %s: %w", counter, journeyID, err)
	}

	return nil
}

func (r *StatsRepository) IncrementChannel(ctx context.Context, journeyID string, counter persistence.ChannelCounter, channel models.Channel, delta int64) error {
	column, ok := channelColumns[counter]
	if !ok {
		return fmt.Errorf("unknown channel counter: %s", counter)
	}

	query := fmt.Sprintf(`
		INSERT INTO journey_stats (journey_id, %[1]s, updated_at)
		VALUES ($1, jsonb_build_object($2::text, $3::bigint), NOW())
		ON CONFLICT (journey_id) DO UPDATE SET
			%[1]s = jsonb_set(
				journey_stats.%[1]s
			  , ARRAY[$2::text]
			  , to_jsonb(COALESCE((journey_stats.%[1]s ->> $2::text)::bigint, 0) + $3::bigint)
			)
		  , updated_at = NOW()
	`, column)

	_, err := r.db.ExecContext(ctx, query, journeyID, string(channel), delta)
	if err != nil {
		return fmt.Errorf("failed to increment %s/%s for journey %s: %w", counter, channel, journeyID, err)
	}

	return nil
}
