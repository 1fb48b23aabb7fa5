package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/eduprism/journey/pkg/models"
	"github.com/eduprism/journey/pkg/persistence"
)

// pqUniqueViolation is the SQLSTATE raised when an insert hits the partial
// unique index guarding the single-active-enrollment invariant.
const pqUniqueViolation = "23505"

// EnrollmentRepository stores enrollments with optimistic concurrency.
// Every Update carries the version read earlier; a concurrent writer that
// committed first makes the version predicate miss and the call returns
// ErrVersionConflict instead of silently overwriting.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const enrollmentColumns = `
	id
  , journey_id
  , subject_id
  , status
  , current_step_id
  , next_run_at
  , entered_at
  , finished_at
  , attempts
  , context
  , history
  , version
  , updated_at
`

func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("get", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, persistence.NewEnrollmentError("get", id, err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	contextRaw, historyRaw, err := encodeEnrollmentBlobs(enrollment)
	if err != nil {
		return persistence.NewEnrollmentError("create", enrollment.ID, err)
	}

	query := `
		INSERT INTO enrollments (id, journey_id, subject_id, status, current_step_id, next_run_at, entered_at, finished_at, attempts, context, history, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.JourneyID,
		enrollment.SubjectID,
		string(enrollment.Status),
		enrollment.CurrentStepID,
		enrollment.NextRunAt,
		enrollment.EnteredAt,
		enrollment.FinishedAt,
		enrollment.Attempts,
		contextRaw,
		historyRaw,
		enrollment.Version,
		enrollment.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return persistence.NewEnrollmentError("create", enrollment.ID, persistence.ErrDuplicateEnrollment)
		}

		return persistence.NewEnrollmentError("create", enrollment.ID, err)
	}

	return nil
}

func (r *EnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	contextRaw, historyRaw, err := encodeEnrollmentBlobs(enrollment)
	if err != nil {
		return persistence.NewEnrollmentError("update", enrollment.ID, err)
	}

	enrollment.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE enrollments SET
			status = $3
		  , current_step_id = $4
		  , next_run_at = $5
		  , finished_at = $6
		  , attempts = $7
		  , context = $8
		  , history = $9
		  , updated_at = $10
		  , version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.Version,
		string(enrollment.Status),
		enrollment.CurrentStepID,
		enrollment.NextRunAt,
		enrollment.FinishedAt,
		enrollment.Attempts,
		contextRaw,
		historyRaw,
		enrollment.UpdatedAt,
	)
	if err != nil {
		return persistence.NewEnrollmentError("update", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEnrollmentError("update", enrollment.ID, err)
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM enrollments WHERE id = $1)", enrollment.ID).Scan(&exists)
		if err != nil {
			return persistence.NewEnrollmentError("update", enrollment.ID, err)
		}

		if !exists {
			return persistence.NewEnrollmentError("update", enrollment.ID, persistence.ErrEnrollmentNotFound)
		}

		return persistence.NewEnrollmentError("update", enrollment.ID, persistence.ErrVersionConflict)
	}

	enrollment.Version++

	return nil
}

func (r *EnrollmentRepository) FindActive(ctx context.Context, subjectID, journeyID string) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE subject_id = $1 AND journey_id = $2 AND status IN ('active', 'waiting')
	`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, subjectID, journeyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to find active enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) HasEnrolled(ctx context.Context, subjectID, journeyID string) (bool, error) {
	var exists bool

	query := "SELECT EXISTS (SELECT 1 FROM enrollments WHERE subject_id = $1 AND journey_id = $2)"

	err := r.db.QueryRowContext(ctx, query, subjectID, journeyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment existence: %w", err)
	}

	return exists, nil
}

func (r *EnrollmentRepository) ListByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE journey_id = $1 ORDER BY entered_at DESC`

	return r.queryEnrollments(ctx, query, journeyID)
}

// Due returns enrollments whose next_run_at has elapsed, oldest first, capped
// at limit.
func (r *EnrollmentRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status IN ('active', 'waiting') AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
	`

	return r.queryEnrollments(ctx, query, now, limit)
}

func (r *EnrollmentRepository) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func encodeEnrollmentBlobs(enrollment *models.Enrollment) (contextRaw, historyRaw []byte, err error) {
	contextRaw, err = json.Marshal(enrollment.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode context: %w", err)
	}

	historyRaw, err = json.Marshal(enrollment.History)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode history: %w", err)
	}

	return contextRaw, historyRaw, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment models.Enrollment
		status     string
		contextRaw []byte
		historyRaw []byte
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.JourneyID,
		&enrollment.SubjectID,
		&status,
		&enrollment.CurrentStepID,
		&enrollment.NextRunAt,
		&enrollment.EnteredAt,
		&enrollment.FinishedAt,
		&enrollment.Attempts,
		&contextRaw,
		&historyRaw,
		&enrollment.Version,
		&enrollment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	enrollment.Status = models.EnrollmentStatus(status)

	err = json.Unmarshal(contextRaw, &enrollment.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}

	err = json.Unmarshal(historyRaw, &enrollment.History)
	if err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}

	return &enrollment, nil
}
