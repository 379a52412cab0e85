package compiler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	// DefinitionFile is the file every tool directory must contain.
	DefinitionFile = "tool.yaml"
	// DocumentationFile optionally holds the tool documentation. It wins over the documentation key.
	DocumentationFile = "README.md"
)

// Source is one tool directory read from disk but not yet checked.
type Source struct {
	Dir           string         // Absolute or relative path of the tool directory
	Name          string         // Directory base name
	Path          string         // Path of the definition file
	Raw           map[string]any // Decoded YAML
	Documentation string         // README.md content, empty when absent
}

// Parser is responsible for turning tool directories into definitions.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// Scan lists the tool directories under dir, sorted by name.
// Sub-directories without a definition file and hidden directories are skipped.
func (p *Parser) Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		toolDir := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(toolDir, DefinitionFile)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", toolDir, err)
		}
		out = append(out, toolDir)
	}
	sort.Strings(out)
	return out, nil
}

// Parse reads the definition and documentation of one tool directory.
func (p *Parser) Parse(toolDir string) (*Source, error) {
	src := &Source{
		Dir:  toolDir,
		Name: filepath.Base(toolDir),
		Path: filepath.Join(toolDir, DefinitionFile),
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return src, fmt.Errorf("failed to read definition: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return src, fmt.Errorf("failed to parse definition: %w", err)
	}
	if raw == nil {
		return src, fmt.Errorf("definition is empty")
	}
	src.Raw = raw

	doc, err := os.ReadFile(filepath.Join(toolDir, DocumentationFile))
	switch {
	case err == nil:
		src.Documentation = string(doc)
	case !errors.Is(err, fs.ErrNotExist):
		return src, fmt.Errorf("failed to read documentation: %w", err)
	}
	return src, nil
}

// Decode maps the raw YAML onto a ToolDefinition. Unknown keys are an error.
func (p *Parser) Decode(src *Source) (*domain.ToolDefinition, error) {
	var def domain.ToolDefinition
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &def,
		ErrorUnused: true,
		TagName:     "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(src.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	if src.Documentation != "" {
		def.Documentation = src.Documentation
	}
	return &def, nil
}
