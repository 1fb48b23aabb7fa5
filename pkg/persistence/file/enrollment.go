package file

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

const enrollmentsKind = "enrollments"

// EnrollmentRepository stores enrollments as JSON files. The shared process
// lock gives the same guarantees a database provides through conditional
// writes: unique non-terminal enrollment per pair and version-checked updates.
type EnrollmentRepository struct {
	persistence *Persistence
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	return r.getLocked(id)
}

func (r *EnrollmentRepository) getLocked(id string) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{}

	err := r.persistence.readRecord(enrollmentsKind, id, enrollment)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewEnrollmentError("GetByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, err
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	existing, err := r.findActiveLocked(enrollment.SubjectID, enrollment.JourneyID)
	if err != nil && !errors.Is(err, persistence.ErrEnrollmentNotFound) {
		return err
	}

	if existing != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrDuplicateEnrollment)
	}

	enrollment.UpdatedAt = time.Now().UTC()

	return r.persistence.writeRecord(enrollmentsKind, enrollment.ID, enrollment)
}

func (r *EnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	current, err := r.getLocked(enrollment.ID)
	if err != nil {
		return err
	}

	if current.Version != enrollment.Version {
		return persistence.NewEnrollmentError("Update", enrollment.ID, persistence.ErrVersionConflict)
	}

	enrollment.Version++
	enrollment.UpdatedAt = time.Now().UTC()

	return r.persistence.writeRecord(enrollmentsKind, enrollment.ID, enrollment)
}

func (r *EnrollmentRepository) FindActive(ctx context.Context, subjectID, journeyID string) (*models.Enrollment, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	enrollment, err := r.findActiveLocked(subjectID, journeyID)
	if err != nil {
		return nil, err
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) findActiveLocked(subjectID, journeyID string) (*models.Enrollment, error) {
	enrollments, err := r.listLocked()
	if err != nil {
		return nil, err
	}

	for _, enrollment := range enrollments {
		if enrollment.SubjectID == subjectID && enrollment.JourneyID == journeyID && !enrollment.Terminal() {
			return enrollment, nil
		}
	}

	return nil, persistence.ErrEnrollmentNotFound
}

func (r *EnrollmentRepository) HasEnrolled(ctx context.Context, subjectID, journeyID string) (bool, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	enrollments, err := r.listLocked()
	if err != nil {
		return false, err
	}

	for _, enrollment := range enrollments {
		if enrollment.SubjectID == subjectID && enrollment.JourneyID == journeyID {
			return true, nil
		}
	}

	return false, nil
}

func (r *EnrollmentRepository) ListByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	all, err := r.listLocked()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Enrollment, 0, len(all))

	for _, enrollment := range all {
		if enrollment.JourneyID == journeyID {
			matched = append(matched, enrollment)
		}
	}

	return matched, nil
}

func (r *EnrollmentRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	r.persistence.mu.RLock()
	defer r.persistence.mu.RUnlock()

	all, err := r.listLocked()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, enrollment := range all {
		if enrollment.Terminal() || enrollment.NextRunAt == nil {
			continue
		}

		if enrollment.NextRunAt.After(now) {
			continue
		}

		due = append(due, enrollment)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *EnrollmentRepository) listLocked() ([]*models.Enrollment, error) {
	ids, err := r.persistence.listIDs(enrollmentsKind)
	if err != nil {
		return nil, err
	}

	enrollments := make([]*models.Enrollment, 0, len(ids))

	for _, id := range ids {
		enrollment := &models.Enrollment{}

		err := r.persistence.readRecord(enrollmentsKind, id, enrollment)
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, enrollment)
	}

	return enrollments, nil
}
