package toolgate_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/toolgate"
	"github.com/aretw0/toolgate/internal/compiler"
	"github.com/aretw0/toolgate/internal/demo"
	"github.com/aretw0/toolgate/pkg/domain"
)

// ExampleRuntime compiles the example tool definitions in memory, loads them
// and runs a retrieval call twice within one session.
func ExampleRuntime() {
	ctx := context.Background()
	desk := demo.NewDesk()

	artifact, err := compiler.New(desk.Catalog()).Compile(ctx, "examples/tools")
	if err != nil {
		log.Fatal(err)
	}

	rt := toolgate.New(desk.Catalog())
	if err := rt.LoadArtifact(ctx, artifact); err != nil {
		log.Fatal(err)
	}
	if _, err := rt.Lock(); err != nil {
		log.Fatal(err)
	}
	defer rt.Close(ctx)

	if err := rt.StartSession(ctx, "demo", map[string]any{"mode": domain.ModeInteractive}); err != nil {
		log.Fatal(err)
	}

	call := toolgate.Call{ToolID: "search_docs", Args: map[string]any{"query": "refund"}}
	first := rt.ExecuteTool(ctx, "demo", call)
	second := rt.ExecuteTool(ctx, "demo", call)
	fmt.Println(first.OK, first.Meta.Reused)
	fmt.Println(second.OK, second.Meta.Reused)

	ticket := rt.ExecuteTool(ctx, "demo", toolgate.Call{
		ToolID: "create_ticket",
		Args:   map[string]any{"subject": "Refund for order 1001", "priority": "normal"},
	})
	fmt.Println(ticket.Error.Type)

	// Output:
	// true false
	// true true
	// CONFIRMATION_REQUIRED
}
