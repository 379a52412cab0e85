/*
Package domain contains the shared vocabulary of the tool dispatch core.

Everything that crosses a component boundary is defined here: the closed set of
error kinds, the ToolResponse envelope and its validator, intents, tool
definitions and the compiled registry artifact. The package has no I/O and no
third-party dependencies so that both the build-time compiler and the runtime
can import it.

# Key Entities

  - ToolDefinition: what a tool author writes (metadata, parameters, documentation).
  - ToolRecord / Artifact: the compiled, versioned output of the build step.
  - ToolResponse: the uniform success/failure envelope returned by every call.
  - ToolError: a structured failure; it implements error so handlers can return it.
  - Intent: a declarative request for a session state change.
  - ExecContext: the capability-scoped view a handler receives.
*/
package domain
