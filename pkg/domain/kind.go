package domain

// ErrorKind classifies a failure. The set is closed.
type ErrorKind string

const (
	// Pre-execution, generated by the registry and the engine.
	KindValidation ErrorKind = "VALIDATION"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindInternal   ErrorKind = "INTERNAL"

	// Policy, generated by the orchestrator-facing guards.
	KindModeRestricted       ErrorKind = "MODE_RESTRICTED"
	KindBudgetExceeded       ErrorKind = "BUDGET_EXCEEDED"
	KindConfirmationRequired ErrorKind = "CONFIRMATION_REQUIRED"
	KindLoopDetected         ErrorKind = "LOOP_DETECTED"

	// Domain, generated by handler code.
	KindSessionInactive ErrorKind = "SESSION_INACTIVE"
	KindTransient       ErrorKind = "TRANSIENT"
	KindPermanent       ErrorKind = "PERMANENT"
	KindRateLimit       ErrorKind = "RATE_LIMIT"
	KindAuth            ErrorKind = "AUTH"
	KindConflict        ErrorKind = "CONFLICT"
)

// Layer names the component family that generates an error kind.
type Layer string

const (
	LayerPreExecution Layer = "pre_execution"
	LayerPolicy       Layer = "policy"
	LayerDomain       Layer = "domain"
)

var kindLayers = map[ErrorKind]Layer{
	KindValidation:           LayerPreExecution,
	KindNotFound:             LayerPreExecution,
	KindInternal:             LayerPreExecution,
	KindModeRestricted:       LayerPolicy,
	KindBudgetExceeded:       LayerPolicy,
	KindConfirmationRequired: LayerPolicy,
	KindLoopDetected:         LayerPolicy,
	KindSessionInactive:      LayerDomain,
	KindTransient:            LayerDomain,
	KindPermanent:            LayerDomain,
	KindRateLimit:            LayerDomain,
	KindAuth:                 LayerDomain,
	KindConflict:             LayerDomain,
}

// Valid reports whether k belongs to the closed set.
func (k ErrorKind) Valid() bool {
	_, ok := kindLayers[k]
	return ok
}

// Layer returns the generating layer, or "" for unknown kinds.
func (k ErrorKind) Layer() Layer {
	return kindLayers[k]
}

// Kinds returns every known kind.
func Kinds() []ErrorKind {
	return []ErrorKind{
		KindValidation, KindNotFound, KindInternal,
		KindModeRestricted, KindBudgetExceeded, KindConfirmationRequired, KindLoopDetected,
		KindSessionInactive, KindTransient, KindPermanent, KindRateLimit, KindAuth, KindConflict,
	}
}
