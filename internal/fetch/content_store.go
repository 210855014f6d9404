package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ContentStore persists fetched bodies keyed by their content hash, and the
// accompanying archive bundle("persist the body to the
// content-addressed store and an archive record").
type ContentStore struct {
	contentDir string
	archiveDir string
}

func NewContentStore(contentDir, archiveDir string) *ContentStore {
	return &ContentStore{contentDir: contentDir, archiveDir: archiveDir}
}

// PutContent writes body under its sha256 hash, returning the hash. Writing
// is idempotent: an identical body always lands at the same path.
func (s *ContentStore) PutContent(body []byte) (hash string, err error) {
	sum := sha256.Sum256(body)
	hash = hex.EncodeToString(sum[:])
	if err := os.MkdirAll(s.contentDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create content directory: %w", err)
	}
	path := filepath.Join(s.contentDir, hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return "", fmt.Errorf("failed to write content: %w", err)
	}
	return hash, nil
}

// PutArchive writes a gzipped record bundle for one fetch under a name
// derived from the content hash, so archive and content stay correlated.
func (s *ContentStore) PutArchive(hash string, bundle []byte) error {
	if err := os.MkdirAll(s.archiveDir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	path := filepath.Join(s.archiveDir, hash+".warc.gz")
	return os.WriteFile(path, bundle, 0644)
}
