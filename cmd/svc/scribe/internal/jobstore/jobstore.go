// Package jobstore persists job records as JSON objects in a blob store.
// One record per job, written once at dispatch time and immutable after
// that. Completion state is never written here; it is derived from the
// presence of result objects.
package jobstore

import (
	"encoding/json"
	"time"

	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/storage"
)

// ErrNotFound is returned by Get when no record exists for a job ID.
var ErrNotFound = errors.New("jobstore: record not found")

const recordPrefix = "jobs/"

// Record is the aggregate root for one end-to-end transcription job.
type Record struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	// FileName is the original name of the uploaded audio file, carried
	// through for the archival handoff.
	FileName string `json:"file_name,omitempty"`
	// Expected maps provider tag to the external task ID returned at
	// dispatch. The job is complete when a result object exists for every
	// tag in this map.
	Expected  map[string]string `json:"providers_expected"`
	CreatedAt time.Time         `json:"created_at"`
}

// OwnerPrefix returns the storage path prefix for all artifacts of this job.
// Empty for single-tenant deployments.
func (r *Record) OwnerPrefix() string {
	if r.ClientID == "" || r.ItemID == "" {
		return ""
	}
	return r.ClientID + "/" + r.ItemID + "/"
}

// RecordName returns the object name under which a job record is stored.
func RecordName(jobID string) string {
	return recordPrefix + jobID + ".json"
}

// Store reads and writes job records.
type Store struct {
	store storage.DeterministicStore
}

// New returns a record store backed by the given blob store.
func New(store storage.DeterministicStore) *Store {
	return &Store{store: store}
}

// Put writes the record. Records are write-once by convention; the store
// does not enforce it, but nothing in this codebase updates a record after
// dispatch.
func (s *Store) Put(r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := s.store.Put(RecordName(r.JobID), data, "application/json", nil); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Get fetches the record for a job ID. Returns ErrNotFound when absent.
func (s *Store) Get(jobID string) (*Record, error) {
	data, _, err := s.store.Get(s.store.IDFromName(RecordName(jobID)))
	if errors.Cause(err) == storage.ErrNoObject {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	r := &Record{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}
