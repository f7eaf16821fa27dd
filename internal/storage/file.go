package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore хранит значения в JSON-файле. Каждая запись переписывает файл атомарно через rename.
type FileStore struct {
	path string

	mu sync.Mutex
}

// NewFileStore создаёт хранилище поверх файла по указанному пути. Файл создаётся при первой записи.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get возвращает значение по ключу.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}

	v, ok := values[key]
	return v, ok, nil
}

// SetMany записывает все значения одной операцией.
func (s *FileStore) SetMany(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil && !errors.Is(err, ErrCorrupted) {
		return err
	}
	if current == nil {
		current = make(map[string]string, len(values))
	}

	for k, v := range values {
		current[k] = v
	}

	return s.save(current)
}

// DeleteMany удаляет ключи одной операцией. Повреждённый файл при этом сбрасывается.
func (s *FileStore) DeleteMany(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil && !errors.Is(err, ErrCorrupted) {
		return err
	}
	if current == nil {
		current = make(map[string]string)
	}

	for _, k := range keys {
		delete(current, k)
	}

	if len(current) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove file: %w", err)
		}
		return nil
	}

	return s.save(current)
}

// Close ничего не делает: файл не держится открытым между операциями.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	return values, nil
}

func (s *FileStore) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
