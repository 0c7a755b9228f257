package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	metadataFile = "metadata.json"
	resultFile   = "result.json"
	argsFile     = "args.json"
	logFile      = "job.log"
	outputsDir   = "outputs"
	jobsDirName  = "jobs"
	batchDirName = "batches"
)

// Store persists job records and results under a root directory:
//
//	<root>/jobs/<job_id>/metadata.json
//	<root>/jobs/<job_id>/result.json
//	<root>/jobs/<job_id>/job.log
//	<root>/jobs/<job_id>/outputs/
//	<root>/batches/<batch_id>.json
//
// All writes go through a temp file followed by an atomic rename, so readers
// never observe a partially written JSON document.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating the jobs directory.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, jobsDirName), 0755); err != nil {
		return nil, fmt.Errorf("create jobs directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// JobDir returns the directory holding one job's files.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobsDirName, jobID)
}

func (s *Store) MetadataPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), metadataFile)
}

func (s *Store) ResultPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), resultFile)
}

func (s *Store) ArgsPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), argsFile)
}

func (s *Store) LogPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), logFile)
}

func (s *Store) OutputDir(jobID string) string {
	return filepath.Join(s.JobDir(jobID), outputsDir)
}

// EnsureJobDir creates the job directory and its outputs subdirectory.
func (s *Store) EnsureJobDir(jobID string) error {
	if err := os.MkdirAll(s.OutputDir(jobID), 0755); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}
	return nil
}

// Write persists a record atomically.
func (s *Store) Write(rec *Record) error {
	return writeJSONAtomic(s.MetadataPath(rec.JobID), rec)
}

// Read loads one record from disk.
func (s *Store) Read(jobID string) (*Record, error) {
	data, err := os.ReadFile(s.MetadataPath(jobID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse job metadata %s: %w", jobID, err)
	}
	return &rec, nil
}

// LoadAll reads every job record under the root, skipping entries whose
// metadata is missing or unparsable.
func (s *Store) LoadAll() ([]*Record, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, jobsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs directory: %w", err)
	}
	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Read(entry.Name())
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Remove deletes a job's directory and everything under it.
func (s *Store) Remove(jobID string) error {
	return os.RemoveAll(s.JobDir(jobID))
}

// WriteResult persists a job's result envelope atomically.
func (s *Store) WriteResult(env *ResultEnvelope) error {
	return writeJSONAtomic(s.ResultPath(env.JobID), env)
}

// ReadResult loads a job's result envelope.
func (s *Store) ReadResult(jobID string) (*ResultEnvelope, error) {
	data, err := os.ReadFile(s.ResultPath(jobID))
	if err != nil {
		return nil, err
	}
	var env ResultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse job result %s: %w", jobID, err)
	}
	return &env, nil
}

// WriteArgs persists the validated argument map for the child process.
func (s *Store) WriteArgs(jobID string, args map[string]any) error {
	return writeJSONAtomic(s.ArgsPath(jobID), args)
}

// ReadArgs loads the argument map written at submission.
func (s *Store) ReadArgs(jobID string) (map[string]any, error) {
	data, err := os.ReadFile(s.ArgsPath(jobID))
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("parse job arguments %s: %w", jobID, err)
	}
	return args, nil
}

// BatchPath returns the file holding one batch group.
func (s *Store) BatchPath(batchID string) string {
	return filepath.Join(s.root, batchDirName, batchID+".json")
}

// WriteBatch persists a batch group atomically.
func (s *Store) WriteBatch(group *BatchGroup) error {
	if err := os.MkdirAll(filepath.Join(s.root, batchDirName), 0755); err != nil {
		return fmt.Errorf("create batches directory: %w", err)
	}
	return writeJSONAtomic(s.BatchPath(group.BatchID), group)
}

// ReadBatch loads one batch group.
func (s *Store) ReadBatch(batchID string) (*BatchGroup, error) {
	data, err := os.ReadFile(s.BatchPath(batchID))
	if err != nil {
		return nil, err
	}
	var group BatchGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", batchID, err)
	}
	return &group, nil
}

// RemoveBatch deletes one batch group file. Missing files are not an error.
func (s *Store) RemoveBatch(batchID string) error {
	err := os.Remove(s.BatchPath(batchID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadAllBatches reads every batch group under the root.
func (s *Store) LoadAllBatches() ([]*BatchGroup, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, batchDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read batches directory: %w", err)
	}
	groups := make([]*BatchGroup, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		group, err := s.ReadBatch(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
