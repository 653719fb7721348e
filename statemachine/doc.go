// Package statemachine holds the replicated state machines of a core member:
// the global session tracker used to deduplicate operations, the lock token
// state machine and the id allocation state machine. Commands are applied by a
// single goroutine in strictly increasing log index order; each machine ignores
// commands at or below the index it last applied and persists its state through
// a StateStorage.
package statemachine
