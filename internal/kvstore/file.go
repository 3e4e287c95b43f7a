package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const fileFormatVersion = 1

// fileContents is the on-disk layout. Values are base64 encoded by encoding/json.
type fileContents struct {
	Version int               `json:"version"`
	Entries map[string][]byte `json:"entries"`
}

// FileStore persists entries as a single JSON document. Every mutation is
// written through with a temp file and rename so a crash never leaves a
// half-written store behind.
type FileStore struct {
	path string
	log  *zap.Logger

	mu      sync.Mutex
	data    map[string][]byte
	corrupt bool
}

// OpenFileStore loads the store at path. A missing file yields an empty
// store. A file that cannot be decoded is logged and treated as empty; it is
// overwritten on the next mutation and Corrupted reports true.
func OpenFileStore(path string, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &FileStore{path: path, log: log, data: make(map[string][]byte)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store: %w", err)
	}
	var fc fileContents
	if err := json.Unmarshal(raw, &fc); err != nil || fc.Version != fileFormatVersion {
		s.log.Warn("discarding unreadable key-value store", zap.String("path", s.path), zap.Error(err))
		s.corrupt = true
		return nil
	}
	if fc.Entries != nil {
		s.data = fc.Entries
	}
	return nil
}

// save must be called with s.mu held.
func (s *FileStore) save() error {
	b, err := json.Marshal(fileContents{Version: fileFormatVersion, Entries: s.data})
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	defer wipe(b)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".kvstore-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func (s *FileStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data[key]
	s.data[key] = append([]byte(nil), value...)
	if err := s.save(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	if had {
		wipe(prev)
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil
	}
	delete(s.data, key)
	if err := s.save(); err != nil {
		s.data[key] = v
		return err
	}
	wipe(v)
	return nil
}

func (s *FileStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keysWithPrefix(s.data, prefix), nil
}

// Corrupted reports whether the file existed but could not be decoded when
// the store was opened.
func (s *FileStore) Corrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupt
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }
