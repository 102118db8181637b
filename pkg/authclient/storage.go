package authclient

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Session keys, shared by both storage scopes.
const (
	KeyJWT     = "jwt"
	KeyRefresh = "refresh"
	KeyUser    = "user"
	KeyTheme   = "theme"
)

// sessionKeys are the keys that make up a session; theme is a preference and survives logout.
var sessionKeys = []string{KeyJWT, KeyRefresh, KeyUser}

// Storage is one persistence scope for client state.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(keys ...string) error
}

// MemoryStorage lives as long as the process, like a browser tab's session storage.
type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: map[string]string{}}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Remove(keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.m, k)
	}
	s.mu.Unlock()
	return nil
}

// FileStorage is durable storage in a JSON file, read and written through viper.
type FileStorage struct {
	mu   sync.Mutex
	path string
	m    map[string]string
}

// NewFileStorage opens (or prepares) the JSON file at path.
func NewFileStorage(path string) (*FileStorage, error) {
	fs := &FileStorage{path: path, m: map[string]string{}}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for _, k := range v.AllKeys() {
		fs.m[k] = v.GetString(k)
	}
	return fs, nil
}

func (s *FileStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.m[key]
	s.m[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.m[key] = prev
		} else {
			delete(s.m, key)
		}
		return err
	}
	return nil
}

func (s *FileStorage) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, k := range keys {
		if _, ok := s.m[k]; ok {
			delete(s.m, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.flush()
}

// flush rewrites the whole file via a temp file and rename. Caller holds mu.
func (s *FileStorage) flush() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigType("json")
	for k, val := range s.m {
		v.Set(k, val)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(s.path)+".tmp.json")
	if err := v.WriteConfigAs(tmp); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
