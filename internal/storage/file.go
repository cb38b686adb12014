package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

// FileStore persists history as a JSON file with atomic replace.
type FileStore struct {
	mu              sync.Mutex
	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// NewFileStore creates a file-backed store.
// If filePath is empty, uses OS-appropriate tmp directory
func NewFileStore(filePath string) *FileStore {
	if filePath == "" {
		filePath = filepath.Join(os.TempDir(), "crowdpulse", "history.json")
	}
	return &FileStore{
		filePath:        filePath,
		filePermissions: 0o644,
		dirPermissions:  0o755,
	}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string {
	return s.filePath
}

// Save persists the document to file
func (s *FileStore) Save(_ context.Context, doc models.HistoryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := Encode(doc)
	if err != nil {
		return err
	}

	// Write to temporary file first (atomic write)
	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, s.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Load restores the document from file. A missing file yields an empty
// document.
func (s *FileStore) Load(_ context.Context) (models.HistoryDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Clean up any stale temp files from previous crashes
	tempPath := s.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return models.NewHistoryDocument(), nil
	}
	if err != nil {
		return models.HistoryDocument{}, fmt.Errorf("failed to read file: %w", err)
	}
	return Decode(data)
}

// Close is a no-op for files.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore keeps the encoded document in memory. It is used when
// persistence is disabled and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save encodes and keeps the document.
func (s *MemoryStore) Save(_ context.Context, doc models.HistoryDocument) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Load decodes the last saved document.
func (s *MemoryStore) Load(_ context.Context) (models.HistoryDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Decode(s.data)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
