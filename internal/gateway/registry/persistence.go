package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists revocation entries as a JSON array at a single path.
// Appends re-read the file and rewrite it atomically (temp file + rename),
// so a crash mid-write never corrupts the array. The mutex serializes the
// read-modify-write; concurrent appends must not lose entries.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store for the given path. The file is created on
// first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads every persisted entry. Entries already past expiry are
// skipped. A missing file is not an error; a permission or parse failure
// is surfaced to the caller.
func (fs *FileStore) Load() ([]RevocationEntry, error) {
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read revocation file: %w", err)
	}

	var all []RevocationEntry
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("parse revocation file: %w", err)
	}

	now := time.Now()
	live := make([]RevocationEntry, 0, len(all))
	for _, entry := range all {
		if now.Before(entry.ExpiresAt) {
			live = append(live, entry)
		}
	}
	return live, nil
}

// Append adds one entry to the persisted array.
func (fs *FileStore) Append(entry RevocationEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var all []RevocationEntry
	raw, err := os.ReadFile(fs.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &all); err != nil {
			return fmt.Errorf("parse revocation file: %w", err)
		}
	case os.IsNotExist(err):
		// first append creates the file
	default:
		return fmt.Errorf("read revocation file: %w", err)
	}

	all = append(all, entry)
	return fs.writeAtomic(all)
}

func (fs *FileStore) writeAtomic(entries []RevocationEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal revocation entries: %w", err)
	}

	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".revocations-*")
	if err != nil {
		return fmt.Errorf("create temp revocation file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write revocation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close revocation file: %w", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace revocation file: %w", err)
	}
	return nil
}
