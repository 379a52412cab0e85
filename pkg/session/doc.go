/*
Package session owns the per-session guards of the dispatch core.

Each live session bundles its state controller, loop detector and duplicate-call
detector, pinned to the registry snapshot it started with. The Manager
serializes access to one session (single writer per session) with a
reference-counted lock map, optionally backed by a distributed lock so replicas
sharing a store never interleave writes to the same session. Ended sessions are
snapshotted to a ports.SnapshotStore and can be resumed.
*/
package session
