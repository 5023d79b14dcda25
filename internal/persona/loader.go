package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every *.yaml / *.yml role file in dir. A missing directory
// yields no roles.
func LoadDir(dir string) ([]Role, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	roles := make([]Role, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var r Role
		if err := yaml.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if strings.TrimSpace(r.Name) == "" {
			r.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// NewCatalogFromDir builds a catalog of the built-in roles overlaid with the
// role files in dir.
func NewCatalogFromDir(dir string) (*Catalog, error) {
	files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return NewCatalog(append(Builtin(), files...)...)
}
