package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Service is a content-addressed blob store for original GPX uploads,
// keyed by (user_id, hash). It knows nothing about tracks or maps;
// reference counting is the caller's job.
type Service struct {
	dir string
}

func NewService(dir string) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create gpx dir: %w", err)
	}
	return &Service{dir: dir}, nil
}

func (s *Service) path(userID, hash string) string {
	return filepath.Join(s.dir, userID+"_"+hash+".gpx")
}

// Store writes content for (userID, hash). First writer wins: if the file
// already exists the call is a no-op, since equal hashes imply equal bytes.
func (s *Service) Store(userID, hash string, content []byte) error {
	path := s.path(userID, hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

// Load returns the stored bytes, or nil if nothing exists for the key.
func (s *Service) Load(userID, hash string) ([]byte, error) {
	content, err := os.ReadFile(s.path(userID, hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Delete removes the blob if present and reports whether anything was
// removed. Deleting a missing blob is a no-op.
func (s *Service) Delete(userID, hash string) (bool, error) {
	err := os.Remove(s.path(userID, hash))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
