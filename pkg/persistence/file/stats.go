package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

const statsKind = "stats"

// StatsRepository stores per-journey counters as JSON files. Increments are
// read-modify-write under the exclusive process lock, which matches the
// atomicity the postgres implementation gets from single-statement updates.
type StatsRepository struct {
	persistence *Persistence
}

func (r *StatsRepository) Get(ctx context.Context, journeyID string) (*models.JourneyStats, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	return r.getLocked(journeyID)
}

func (r *StatsRepository) getLocked(journeyID string) (*models.JourneyStats, error) {
	stats := &models.JourneyStats{}

	err := r.persistence.readRecord(statsKind, journeyID, stats)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrStatsNotFound
		}

		return nil, err
	}

	return stats, nil
}

func (r *StatsRepository) Increment(ctx context.Context, journeyID string, counter persistence.Counter, delta int64) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	stats, err := r.loadOrInitLocked(journeyID)
	if err != nil {
		return err
	}

	switch counter {
	case persistence.CounterEnrolled:
		stats.Enrolled += delta
	case persistence.CounterActive:
		stats.Active += delta
	case persistence.CounterCompleted:
		stats.Completed += delta
	case persistence.CounterFailed:
		stats.Failed += delta
	case persistence.CounterExited:
		stats.Exited += delta
	default:
		return fmt.Errorf("unknown stats counter %q", counter)
	}

	stats.UpdatedAt = time.Now().UTC()

	return r.persistence.writeRecord(statsKind, journeyID, stats)
}

func (r *StatsRepository) IncrementChannel(ctx context.Context, journeyID string, counter persistence.ChannelCounter, channel models.Channel, delta int64) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	stats, err := r.loadOrInitLocked(journeyID)
	if err != nil {
		return err
	}

	switch counter {
	case persistence.ChannelCounterTriggered:
		if stats.ChannelTriggered == nil {
			stats.ChannelTriggered = make(map[models.Channel]int64)
		}

		stats.ChannelTriggered[channel] += delta
	case persistence.ChannelCounterDelivered:
		if stats.ChannelDelivered == nil {
			stats.ChannelDelivered = make(map[models.Channel]int64)
		}

		stats.ChannelDelivered[channel] += delta
	default:
		return fmt.Errorf("unknown channel counter %q", counter)
	}

	stats.UpdatedAt = time.Now().UTC()

	return r.persistence.writeRecord(statsKind, journeyID, stats)
}

func (r *StatsRepository) loadOrInitLocked(journeyID string) (*models.JourneyStats, error) {
	stats, err := r.getLocked(journeyID)
	if err != nil {
		if errors.Is(err, persistence.ErrStatsNotFound) {
			return &models.JourneyStats{JourneyID: journeyID}, nil
		}

		return nil, err
	}

	return stats, nil
}
