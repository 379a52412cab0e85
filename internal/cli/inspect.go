package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"gopkg.in/yaml.v3"
)

// InspectOptions contains the configuration for the inspect command.
type InspectOptions struct {
	Artifact string
	Provider string // print this provider's declarations
	Tool     string // restrict output to one tool
}

// RunInspect prints an artifact without binding any handler.
//
//   - no flags: the header and every summary
//   - Tool: the tool metadata as YAML followed by its documentation
//   - Provider: the declarations for that provider, as JSON
func RunInspect(opts InspectOptions, w io.Writer) error {
	a, err := registry.ReadArtifact(opts.Artifact)
	if err != nil {
		return err
	}

	tools := a.Tools
	if opts.Tool != "" {
		tools = nil
		for _, t := range a.Tools {
			if t.ToolID == opts.Tool {
				tools = append(tools, t)
			}
		}
		if len(tools) == 0 {
			return fmt.Errorf("%w: %s", domain.ErrToolNotFound, opts.Tool)
		}
	}

	switch {
	case opts.Provider != "":
		return printProjections(w, tools, opts.Provider)
	case opts.Tool != "":
		return printTool(w, tools[0])
	default:
		printSummaries(w, a)
		return nil
	}
}

func printSummaries(w io.Writer, a *domain.Artifact) {
	fmt.Fprintf(w, "registry %s", a.Version)
	if a.Revision != "" {
		fmt.Fprintf(w, " (revision %s)", a.Revision)
	}
	fmt.Fprintf(w, ", built %s\n\n", a.BuildTimestamp.Format("2006-01-02 15:04:05Z07:00"))
	for _, t := range a.Tools {
		fmt.Fprintf(w, "%-24s %-10s [%s] %s\n", t.ToolID, t.Category, strings.Join(t.AllowedModes, ","), t.Summary)
	}
}

func printTool(w io.Writer, t domain.ToolRecord) error {
	meta, err := yaml.Marshal(t.ToolMetadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	fmt.Fprintf(w, "%s\nhandlerRef: %s\nsummary: %s\n---\n%s\n", strings.TrimSpace(string(meta)), t.HandlerRef, t.Summary, strings.TrimSpace(t.Documentation))
	return nil
}

func printProjections(w io.Writer, tools []domain.ToolRecord, provider string) error {
	decls := make([]json.RawMessage, 0, len(tools))
	for _, t := range tools {
		decl, ok := t.ProviderSchemas[provider]
		if !ok {
			return fmt.Errorf("artifact has no %s projection for %s", provider, t.ToolID)
		}
		decls = append(decls, decl)
	}

	var out any = decls
	if len(decls) == 1 {
		out = decls[0]
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
