package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Разрешённые ключи для объектов каталога
var allowedEntityKeys = map[string]bool{
	"store":     true,
	"table":     true,
	"key":       true,
	"since":     true,
	"scope":     true,
	"joins":     true,
	"columns":   true,
	"relations": true,
	"filters":   true,
}

var allowedRelationKeys = map[string]bool{
	"type":   true,
	"entity": true,
	"fk":     true,
	"pk":     true,
	"join":   true,
}

var allowedColumnKeys = map[string]bool{
	"source": true,
	"alias":  true,
	"expr":   true,
}

var allowedFilterKeys = map[string]bool{
	"fields":    true,
	"search":    true,
	"couplings": true,
	"ordering":  true,
}

var allowedFieldKeys = map[string]bool{
	"name":             true,
	"column":           true,
	"type":             true,
	"relation":         true,
	"filter":           true,
	"shorthand":        true,
	"invert":           true,
	"exclude_on_false": true,
	"implies":          true,
	"expand":           true,
}

var allowedSearchKeys = map[string]bool{
	"name":   true,
	"fields": true,
}

var allowedSearchFieldKeys = map[string]bool{
	"relation": true,
	"column":   true,
}

var allowedOrderingKeys = map[string]bool{
	"fields":  true,
	"default": true,
	"columns": true,
}

var allowedImpliedKeys = map[string]bool{
	"field": true,
	"value": true,
}

var allowedExpandKeys = map[string]bool{
	"kind":   true,
	"target": true,
}

// Разрешённые значения для type в полях фильтра
var allowedFieldTypeValues = map[string]bool{
	string(TypeString):  true,
	string(TypeInt):     true,
	string(TypeFloat):   true,
	string(TypeBool):    true,
	string(TypeDate):    true,
	string(TypeStrings): true,
}

var contextKeys = map[string]map[string]bool{
	"entity":       allowedEntityKeys,
	"relation":     allowedRelationKeys,
	"column":       allowedColumnKeys,
	"filter":       allowedFilterKeys,
	"field":        allowedFieldKeys,
	"search":       allowedSearchKeys,
	"search-field": allowedSearchFieldKeys,
	"ordering":     allowedOrderingKeys,
	"implied":      allowedImpliedKeys,
	"expand":       allowedExpandKeys,
}

// nextContext: в каком контексте проверять значение ключа key
func nextContext(context, key string) string {
	switch context {
	case "entity":
		switch key {
		case "relations":
			return "relations-map"
		case "filters":
			return "filters-map"
		case "columns":
			return "columns-seq"
		}
	case "relations-map":
		return "relation"
	case "filters-map":
		return "filter"
	case "filter":
		switch key {
		case "fields":
			return "fields-seq"
		case "search":
			return "search"
		case "ordering":
			return "ordering"
		}
	case "search":
		if key == "fields" {
			return "search-fields-seq"
		}
	case "field":
		switch key {
		case "implies":
			return "implies-seq"
		case "expand":
			return "expand"
		}
	}
	return "free"
}

var seqItemContext = map[string]string{
	"columns-seq":       "column",
	"fields-seq":        "field",
	"search-fields-seq": "search-field",
	"implies-seq":       "implied",
}

func validateYAMLNode(node *yaml.Node, context string) error {
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := validateYAMLNode(child, "entity"); err != nil {
				return err
			}
		}

	case yaml.MappingNode:
		allowedKeys := contextKeys[context] // nil - свободная форма

		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			valNode := node.Content[i+1]

			if allowedKeys != nil && !allowedKeys[key] {
				return fmt.Errorf("unknown key '%s' in %s", key, context)
			}
			if context == "field" && key == "type" && !allowedFieldTypeValues[valNode.Value] {
				return fmt.Errorf("unknown type value '%s' in field", valNode.Value)
			}
			if context == "expand" && key == "kind" && valNode.Value != ExpandRange && valNode.Value != ExpandWindow {
				return fmt.Errorf("unknown expand kind '%s'", valNode.Value)
			}

			if err := validateYAMLNode(valNode, nextContext(context, key)); err != nil {
				return err
			}
		}

	case yaml.SequenceNode:
		itemContext, ok := seqItemContext[context]
		if !ok {
			itemContext = context
		}
		for _, item := range node.Content {
			if err := validateYAMLNode(item, itemContext); err != nil {
				return err
			}
		}

	case yaml.ScalarNode:
		// скаляры проверяются при разборе MappingNode
	}

	return nil
}
