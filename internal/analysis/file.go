package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"GridSentinel/internal/model"
	"GridSentinel/internal/store"
)

// FileStore keeps the cache in a JSON file that is rewritten as a whole.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the cache file. A missing file is an empty cache.
func (s *FileStore) Load(ctx context.Context) (map[string]model.AnalysisRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.AnalysisRecord{}, nil
		}
		return nil, err
	}
	records := make(map[string]model.AnalysisRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return records, nil
}

// Save replaces the cache file.
func (s *FileStore) Save(ctx context.Context, records map[string]model.AnalysisRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(s.path, data, 0o644)
}
