package display

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Store persists the last dashboard address that answered a status check.
type Store struct {
	path string
}

type storedAddress struct {
	Address string `yaml:"address"`
}

// NewStore returns a store backed by the YAML file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved address, or "" if none has been saved.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading display store: %w", err)
	}
	var st storedAddress
	if err := yaml.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("parsing display store: %w", err)
	}
	if st.Address != "" && ValidateAddress(st.Address) != nil {
		return "", fmt.Errorf("display store holds %q: %w", st.Address, ErrInvalidAddress)
	}
	return st.Address, nil
}

// Save writes addr atomically.
func (s *Store) Save(addr string) error {
	if err := ValidateAddress(addr); err != nil {
		return err
	}
	data, err := yaml.Marshal(storedAddress{Address: addr})
	if err != nil {
		return fmt.Errorf("encoding display store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating display store dir: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing display store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving display store: %w", err)
	}
	return nil
}

// Connect checks that the dashboard behind c answers and, only if it does,
// saves its address. It returns the dashboard's current status.
func (s *Store) Connect(ctx context.Context, c *Client) (Status, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := s.Save(c.Address()); err != nil {
		return Status{}, err
	}
	return st, nil
}
