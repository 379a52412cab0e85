package schema

import "fmt"

// CheckStrictObject enforces the shape every tool parameter schema must have:
// a top-level object that closes itself with additionalProperties=false.
func CheckStrictObject(m map[string]any) error {
	if m == nil {
		return fmt.Errorf("parameters schema is missing")
	}
	if t, _ := m["type"].(string); t != "object" {
		return fmt.Errorf(`parameters schema must have type "object", got %v`, m["type"])
	}
	ap, present := m["additionalProperties"]
	if !present {
		return fmt.Errorf("parameters schema must set additionalProperties to false")
	}
	if b, ok := ap.(bool); !ok || b {
		return fmt.Errorf("parameters schema must set additionalProperties to false, got %v", ap)
	}
	return nil
}
