package refs

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/driftvcs/drift/internal/object"
)

// Remotes is a named remote registry persisted as a JSON file mapping remote
// name to connection location (an HTTP URL or a filesystem path).
type Remotes struct {
	path string
}

// NewRemotes creates a registry backed by the given file.
func NewRemotes(path string) *Remotes {
	return &Remotes{path: path}
}

func (m *Remotes) load() (map[string]string, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read remotes: %w", err)
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse remotes: %w", err)
	}
	return out, nil
}

func (m *Remotes) save(remotes map[string]string) error {
	data, err := json.MarshalIndent(remotes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal remotes: %w", err)
	}
	return object.SafeWrite(m.path, data, 0644)
}

// Add registers a remote location under a name, overwriting any previous one.
func (m *Remotes) Add(name, location string) error {
	remotes, err := m.load()
	if err != nil {
		return err
	}
	remotes[name] = location
	return m.save(remotes)
}

// Remove deletes a remote registration.
func (m *Remotes) Remove(name string) error {
	remotes, err := m.load()
	if err != nil {
		return err
	}
	delete(remotes, name)
	return m.save(remotes)
}

// Location resolves a remote name.
func (m *Remotes) Location(name string) (string, error) {
	remotes, err := m.load()
	if err != nil {
		return "", err
	}
	loc, ok := remotes[name]
	if !ok {
		return "", fmt.Errorf("remote not found: %s", name)
	}
	return loc, nil
}

// Names returns all registered remote names, sorted.
func (m *Remotes) Names() ([]string, error) {
	remotes, err := m.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(remotes))
	for name := range remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
