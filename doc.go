/*
Package toolgate is a contract-enforced tool dispatch core for conversational agents.

Tool authors write declarative definitions (metadata, a strict JSON Schema for
the parameters and markdown documentation). A build step compiles them into a
single versioned artifact, failing the whole build on any violation. At runtime
the artifact is loaded into a registry, locked, and every call an agent makes
runs through one pipeline with uniform contracts.

# Concept

The agent never talks to handlers directly. Each call goes through session and
policy guards, a loop detector and a duplicate-call detector before the engine
validates the arguments and invokes the handler. Whatever the handler does, the
caller gets a ToolResponse envelope: ok with data and intents, or a structured
error whose type, retryable and partialSideEffects flags tell the orchestrator
what to do next. Handlers never mutate session state; they return intents that
the state controller applies afterwards.

# Key Features

  - Build-time validation: closed-set metadata, strict schemas, summaries and handler binding.
  - Provider projections: Gemini, OpenAI and Anthropic declarations computed once at build time.
  - Deterministic registry version derived from tool ids, schemas and summaries.
  - Retries with exponential backoff, disabled in low-latency modes.
  - Session-scoped duplicate and loop detection.
  - Observational metrics exported through Prometheus.

# Usage

	rt := toolgate.New(catalog)
	if err := rt.Load(ctx, "dist/registry.json"); err != nil {
		log.Fatal(err)
	}
	if _, err := rt.Lock(); err != nil {
		log.Fatal(err)
	}

	_ = rt.StartSession(ctx, "call-42", map[string]any{"mode": "interactive"})
	resp := rt.ExecuteTool(ctx, "call-42", toolgate.Call{
		ToolID: "search_docs",
		Args:   map[string]any{"query": "refund"},
	})
	if !resp.OK && resp.Error.Retryable {
		// the orchestrator may try again later
	}
*/
package toolgate
