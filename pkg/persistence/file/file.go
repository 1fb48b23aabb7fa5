// Package file provides a JSON-on-disk persistence implementation used for
// development and tests. All repositories share one process-wide lock, which
// stands in for the conditional writes a database provides; it is not safe
// for multi-process deployments.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eduprism/journey/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root           string
	mu             sync.RWMutex
	journeyRepo    *JourneyRepository
	enrollmentRepo *EnrollmentRepository
	statsRepo      *StatsRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	fp := &Persistence{root: cleanRoot}
	fp.journeyRepo = &JourneyRepository{persistence: fp}
	fp.enrollmentRepo = &EnrollmentRepository{persistence: fp}
	fp.statsRepo = &StatsRepository{persistence: fp}

	return fp
}

func (fp *Persistence) JourneyRepository() persistence.JourneyRepository {
	return fp.journeyRepo
}

func (fp *Persistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return fp.enrollmentRepo
}

func (fp *Persistence) StatsRepository() persistence.StatsRepository {
	return fp.statsRepo
}

// Close performs any necessary cleanup. Nothing to clean up for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) dir(kind string) string {
	return filepath.Join(fp.root, kind)
}

func (fp *Persistence) path(kind, id string) string {
	return filepath.Join(fp.root, kind, id+".json")
}

// writeRecord marshals and writes one record. Callers hold the write lock.
func (fp *Persistence) writeRecord(kind, id string, record any) error {
	dir := fp.dir(kind)

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	err = os.WriteFile(fp.path(kind, id), raw, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", kind, id, err)
	}

	return nil
}

// readRecord reads one record into target. Callers hold at least a read lock.
// Returns os.ErrNotExist when the record is absent.
func (fp *Persistence) readRecord(kind, id string, target any) error {
	raw, err := os.ReadFile(fp.path(kind, id))
	if err != nil {
		return err
	}

	err = json.Unmarshal(raw, target)
	if err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}

	return nil
}

// listIDs returns the record ids present for a kind.
func (fp *Persistence) listIDs(kind string) ([]string, error) {
	entries, err := os.ReadDir(fp.dir(kind))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}
