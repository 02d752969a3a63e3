package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// scratchDir is a staging area backed by one private directory. Artifact names
// are single path elements resolved inside root.
type scratchDir struct {
	root string
}

// validStagingName rejects names that would escape the staging area.
func validStagingName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid staging name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("staging name %q must be a single path element", name)
	}
	return nil
}

func (s scratchDir) path(name string) (string, error) {
	if err := validStagingName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

func (s scratchDir) write(name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (s scratchDir) read(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

func (s scratchDir) remove(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s scratchDir) list() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s scratchDir) destroy() error {
	return os.RemoveAll(s.root)
}
