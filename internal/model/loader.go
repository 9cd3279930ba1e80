package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every *.yml file in dir into a fresh, unlinked catalog.
func LoadDir(dir string) (*Catalog, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no catalog files in %s", ErrConfig, dir)
	}
	sort.Strings(files)

	cat := NewCatalog()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := cat.Parse(name, data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cat, nil
}

// Parse decodes one entity document and registers it under name.
func (c *Catalog) Parse(name string, data []byte) error {
	// 1. Разбираем в yaml.Node для структурной валидации
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("YAML parse error: %w", err)
	}
	// YAML всегда [0] - документ, [1] - root mapping
	if len(root.Content) == 0 {
		return fmt.Errorf("%w: empty YAML for entity %s", ErrConfig, name)
	}
	if err := validateYAMLNode(root.Content[0], "entity"); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// 2. Теперь уже Decode в сущность
	var entity Entity
	if err := root.Decode(&entity); err != nil {
		return fmt.Errorf("unmarshal error: %w", err)
	}
	if _, dup := c.Entities[name]; dup {
		return fmt.Errorf("%w: entity %s declared twice", ErrConfig, name)
	}
	entity.Name = name
	c.Entities[name] = &entity
	return nil
}
