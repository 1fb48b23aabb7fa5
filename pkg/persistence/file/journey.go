package file

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

const journeysKind = "journeys"

// JourneyRepository stores journey definitions as JSON files.
type JourneyRepository struct {
	persistence *Persistence
}

func (r *JourneyRepository) GetAll(ctx context.Context) ([]*models.Journey, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	return r.getAllLocked()
}

func (r *JourneyRepository) getAllLocked() ([]*models.Journey, error) {
	ids, err := r.persistence.listIDs(journeysKind)
	if err != nil {
		return nil, err
	}

	journeys := make([]*models.Journey, 0, len(ids))

	for _, id := range ids {
		journey := &models.Journey{}

		err := r.persistence.readRecord(journeysKind, id, journey)
		if err != nil {
			return nil, err
		}

		journeys = append(journeys, journey)
	}

	return journeys, nil
}

func (r *JourneyRepository) GetActive(ctx context.Context) ([]*models.Journey, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	all, err := r.getAllLocked()
	if err != nil {
		return nil, err
	}

	active := make([]*models.Journey, 0, len(all))

	for _, journey := range all {
		if journey.IsActive() {
			active = append(active, journey)
		}
	}

	return active, nil
}

func (r *JourneyRepository) GetByID(ctx context.Context, id string) (*models.Journey, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	journey := &models.Journey{}

	err := r.persistence.readRecord(journeysKind, id, journey)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.ErrJourneyNotFound
		}

		return nil, err
	}

	return journey, nil
}

func (r *JourneyRepository) Save(ctx context.Context, journey *models.Journey) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	journey.UpdatedAt = time.Now().UTC()

	return r.persistence.writeRecord(journeysKind, journey.ID, journey)
}

func (r *JourneyRepository) Delete(ctx context.Context, id string) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	err := os.Remove(r.persistence.path(journeysKind, id))
	if errors.Is(err, os.ErrNotExist) {
		return persistence.ErrJourneyNotFound
	}

	return err
}
