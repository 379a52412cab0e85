package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when starting a session whose ID is already active.
var ErrSessionExists = errors.New("session already exists")

// ErrToolNotFound is returned by registry accessors for unknown tool IDs.
var ErrToolNotFound = errors.New("tool not found")

// ErrRegistryLocked is returned when mutating a registry after Lock.
var ErrRegistryLocked = errors.New("registry is locked")

// ErrRegistryNotLoaded is returned when reading or locking an empty registry.
var ErrRegistryNotLoaded = errors.New("registry not loaded")

// ErrRegistryLoaded is returned when Load is called twice.
var ErrRegistryLoaded = errors.New("registry already loaded")

// ErrHandlerUnresolved is returned when a handler reference cannot be bound.
var ErrHandlerUnresolved = errors.New("handler could not be resolved")

// ErrUnknownProvider is returned when asking for a projection that was never compiled.
var ErrUnknownProvider = errors.New("unknown schema provider")

// ErrSessionEnded is returned when a session is used after End.
var ErrSessionEnded = errors.New("session ended")
