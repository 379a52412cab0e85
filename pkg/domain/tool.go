package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// Category groups tools by purpose.
type Category string

const (
	CategoryRetrieval Category = "retrieval"
	CategoryAction    Category = "action"
	CategoryUtility   Category = "utility"
)

// Valid reports whether c is in the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryRetrieval, CategoryAction, CategoryUtility:
		return true
	}
	return false
}

// SideEffects declares what a tool may touch.
type SideEffects string

const (
	SideEffectsNone     SideEffects = "none"
	SideEffectsReadOnly SideEffects = "read_only"
	SideEffectsWrites   SideEffects = "writes"
)

// Valid reports whether s is in the closed set.
func (s SideEffects) Valid() bool {
	switch s {
	case SideEffectsNone, SideEffectsReadOnly, SideEffectsWrites:
		return true
	}
	return false
}

// Interaction modes a tool may be allowed to run under.
const (
	ModeRealtime    = "realtime"
	ModeInteractive = "interactive"
	ModeBackground  = "background"
)

// ValidMode reports whether mode is in the closed set.
func ValidMode(mode string) bool {
	switch mode {
	case ModeRealtime, ModeInteractive, ModeBackground:
		return true
	}
	return false
}

// ToolMetadata is the orchestration metadata shared by definitions and compiled records.
type ToolMetadata struct {
	ToolID               string      `json:"toolId" yaml:"toolId" mapstructure:"toolId"`
	Version              string      `json:"version" yaml:"version" mapstructure:"version"`
	Category             Category    `json:"category" yaml:"category" mapstructure:"category"`
	SideEffects          SideEffects `json:"sideEffects" yaml:"sideEffects" mapstructure:"sideEffects"`
	Idempotent           bool        `json:"idempotent" yaml:"idempotent" mapstructure:"idempotent"`
	RequiresConfirmation bool        `json:"requiresConfirmation" yaml:"requiresConfirmation" mapstructure:"requiresConfirmation"`
	AllowedModes         []string    `json:"allowedModes" yaml:"allowedModes" mapstructure:"allowedModes"`
	LatencyBudgetMs      int64       `json:"latencyBudgetMs" yaml:"latencyBudgetMs" mapstructure:"latencyBudgetMs"`
}

// AllowsMode reports whether the tool may run under mode.
func (m ToolMetadata) AllowsMode(mode string) bool {
	return slices.Contains(m.AllowedModes, mode)
}

// Cacheable reports whether results can be reused by the duplicate-call detector:
// idempotent tools that do not write.
func (m ToolMetadata) Cacheable() bool {
	return m.Idempotent && m.SideEffects != SideEffectsWrites
}

// LatencyBudget returns the soft latency budget as a duration.
func (m ToolMetadata) LatencyBudget() time.Duration {
	return time.Duration(m.LatencyBudgetMs) * time.Millisecond
}

// ToolDefinition is what a tool author writes.
type ToolDefinition struct {
	ToolMetadata  `yaml:",inline" mapstructure:",squash"`
	Parameters    map[string]any `json:"parameters" yaml:"parameters" mapstructure:"parameters"`
	Documentation string         `json:"documentation,omitempty" yaml:"documentation,omitempty" mapstructure:"documentation"`
	HandlerRef    string         `json:"handlerRef,omitempty" yaml:"handlerRef,omitempty" mapstructure:"handlerRef"`
}

// ToolRecord is a compiled definition as stored in the artifact.
type ToolRecord struct {
	ToolMetadata
	JSONSchema      json.RawMessage            `json:"jsonSchema"`
	ProviderSchemas map[string]json.RawMessage `json:"providerSchemas"`
	Summary         string                     `json:"summary"`
	Documentation   string                     `json:"documentation"`
	HandlerRef      string                     `json:"handlerRef"`
}

// Artifact is the single file produced by the compiler and consumed by the registry.
type Artifact struct {
	Version        string       `json:"version"`
	Revision       string       `json:"revision,omitempty"`
	BuildTimestamp time.Time    `json:"buildTimestamp"`
	Tools          []ToolRecord `json:"tools"`
}
