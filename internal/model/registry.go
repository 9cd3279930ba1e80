package model

import (
	"fmt"

	"FlowtrackAPI/internal/logger"
)

// Catalog - неизменяемый после InitRegistry набор сущностей
type Catalog struct {
	Entities map[string]*Entity
}

func NewCatalog() *Catalog {
	return &Catalog{Entities: map[string]*Entity{}}
}

// InitRegistry loads, links and validates the catalog in dir.
// Any error is a configuration error and should stop startup.
func InitRegistry(dir string) (*Catalog, error) {
	cat, err := LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load error: %w", err)
	}
	if err := cat.Link(); err != nil {
		return nil, fmt.Errorf("link error: %w", err)
	}
	for name, e := range cat.Entities {
		logger.Info("entity_loaded", map[string]any{
			"entity":    name,
			"store":     e.Store,
			"relations": len(e.Relations),
			"filters":   len(e.Filters),
		})
	}
	return cat, nil
}

// Entity returns the named entity.
func (c *Catalog) Entity(name string) (*Entity, error) {
	e, ok := c.Entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity %q", ErrConfig, name)
	}
	return e, nil
}

// Filter returns the named filter of the named entity.
func (c *Catalog) Filter(entity, filter string) (*FilterDef, error) {
	e, err := c.Entity(entity)
	if err != nil {
		return nil, err
	}
	def, ok := e.Filters[filter]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s has no filter %q", ErrConfig, entity, filter)
	}
	return def, nil
}

func (e *Entity) GetRelation(name string) *Relation {
	if e == nil || e.Relations == nil {
		return nil
	}
	return e.Relations[name]
}
