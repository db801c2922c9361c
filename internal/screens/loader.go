// Package screens loads and validates screen definitions.
package screens

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/stlehmann/qthmi.ads/internal/types"
)

var extensions = []string{".yaml", ".yml", ".json"}

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *Loader) Validator() *Validator { return l.validator }

// Load finds <id>.yaml, .yml or .json in the search paths.
func (l *Loader) Load(id string) (*types.ScreenDefinition, error) {
	// Cache-Check
	if cached, ok := l.cache.Load(id); ok {
		return cached.(*types.ScreenDefinition), nil
	}

	for _, searchPath := range l.searchPaths {
		for _, ext := range extensions {
			fullPath := filepath.Join(searchPath, id+ext)
			if _, err := os.Stat(fullPath); err != nil {
				continue
			}

			def, err := l.LoadFile(fullPath)
			if err != nil {
				return nil, err
			}
			if def.Screen.ID != id {
				return nil, fmt.Errorf("%s declares screen %q, expected %q", fullPath, def.Screen.ID, id)
			}
			l.cache.Store(id, def)
			return def, nil
		}
	}

	return nil, fmt.Errorf("screen %s: %w (searched in: %v)", id, types.ErrNotFound, l.searchPaths)
}

// LoadFile reads, validates and decodes one screen file.
func (l *Loader) LoadFile(path string) (*types.ScreenDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read screen: %w", err)
	}

	def, err := l.Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes YAML or JSON (by extension) and validates the result.
func (l *Loader) Parse(data []byte, ext string) (*types.ScreenDefinition, error) {
	jsonData, err := toJSON(data, ext)
	if err != nil {
		return nil, err
	}

	if err := l.validator.Validate(jsonData); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var def types.ScreenDefinition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal screen: %w", err)
	}
	if err := checkReferences(&def); err != nil {
		return nil, fmt.Errorf("validation failed: %w: %v", ErrInvalidScreen, err)
	}

	return &def, nil
}

// List returns the ids of all screen files in the search paths. The first
// path wins when an id occurs more than once.
func (l *Loader) List() ([]string, error) {
	seen := make(map[string]bool)
	var ids []string

	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list %s: %w", searchPath, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if !isScreenExt(ext) {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ext)
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	sort.Strings(ids)
	return ids, nil
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

func isScreenExt(ext string) bool {
	for _, e := range extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func toJSON(data []byte, ext string) ([]byte, error) {
	if strings.EqualFold(ext, ".json") {
		return data, nil
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return out, nil
}
