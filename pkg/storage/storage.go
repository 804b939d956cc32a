// Package storage persists downloaded profile pictures on disk, one file
// per username, so the classifier can read them and reruns can reuse them.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	errs "igfilter/pkg/errors"
	"igfilter/pkg/logger"
)

// ImageStore writes profile pictures under a single directory. Filenames
// are derived from the username, which the fetch stage has already
// validated against the platform's character rules. Known usernames are
// cached so repeated existence checks skip the stat.
type ImageStore struct {
	dir    string
	logger logger.Logger

	mu    sync.Mutex
	known map[string]bool
}

// NewImageStore creates the store, making the directory if needed
func NewImageStore(dir string) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Newf(errs.ErrorTypeIO, "failed to create images directory: %v", err)
	}
	return &ImageStore{
		dir:    dir,
		logger: logger.GetLogger(),
		known:  make(map[string]bool),
	}, nil
}

// ImagePath returns the on-disk path for a username's picture
func (s *ImageStore) ImagePath(username string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.jpg", username))
}

// HasImage reports whether a picture for the username already exists
func (s *ImageStore) HasImage(username string) bool {
	s.mu.Lock()
	cached := s.known[username]
	s.mu.Unlock()
	if cached {
		return true
	}

	info, err := os.Stat(s.ImagePath(username))
	if err != nil || info.Size() == 0 {
		return false
	}

	s.mu.Lock()
	s.known[username] = true
	s.mu.Unlock()
	return true
}

// SaveImage writes picture bytes atomically and returns the final path
func (s *ImageStore) SaveImage(username string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errs.Newf(errs.ErrorTypeIO, "no image data for %s", username)
	}

	path := s.ImagePath(username)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", errs.Newf(errs.ErrorTypeIO, "failed to write image: %v", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", errs.Newf(errs.ErrorTypeIO, "failed to finalize image: %v", err)
	}

	s.mu.Lock()
	s.known[username] = true
	s.mu.Unlock()

	s.logger.DebugWithFields("image saved", map[string]interface{}{
		"username": username,
		"path":     path,
		"size":     len(data),
	})

	return path, nil
}

// ReadImage returns the stored picture bytes for a username
func (s *ImageStore) ReadImage(username string) ([]byte, error) {
	data, err := os.ReadFile(s.ImagePath(username))
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeIO, "failed to read image for %s: %v", username, err)
	}
	return data, nil
}
