// Package schema compiles and applies the JSON Schema attached to every tool.
//
// Schemas are compiled with santhosh-tekuri/jsonschema and failures are
// flattened into per-field ValidationErrors collected in an AggregateError,
// so callers can report every offending argument at once:
//
//	v, err := schema.Compile("search", raw)
//	if err != nil {
//	    // the schema itself is invalid
//	}
//	if err := v.Validate(args); err != nil {
//	    for _, fe := range schema.ValidationErrors(err) {
//	        // field-level message
//	    }
//	}
//
// CheckStrictObject enforces the structural rule every tool schema must obey:
// a top-level object that sets additionalProperties to false.
package schema
