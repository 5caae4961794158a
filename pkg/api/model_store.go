package api

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/mlmodel/training"
)

// ModelStore serves the model artifact at a fixed path, reloading it when
// the file's modification time changes
type ModelStore struct {
	path string

	mu      sync.RWMutex
	model   *training.Model
	modTime time.Time
}

// NewModelStore creates a store; nothing is loaded until first use
func NewModelStore(path string) *ModelStore {
	return &ModelStore{path: path}
}

// Path returns the artifact path
func (s *ModelStore) Path() string {
	return s.path
}

// Get returns the current model, loading or reloading it as needed
func (s *ModelStore) Get() (*training.Model, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("model artifact unavailable: %w", err)
	}

	s.mu.RLock()
	model, modTime := s.model, s.modTime
	s.mu.RUnlock()
	if model != nil && modTime.Equal(info.ModTime()) {
		return model, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil && s.modTime.Equal(info.ModTime()) {
		return s.model, nil
	}
	loaded, err := training.LoadModel(s.path)
	if err != nil {
		return nil, err
	}
	s.model = loaded
	s.modTime = info.ModTime()
	return loaded, nil
}
