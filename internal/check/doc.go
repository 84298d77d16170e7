// Package check holds the debug-only usage checkers of the containers.
//
// Checks are off unless the binary is built with the pmemdebug tag or a
// container is constructed with its checking option. A failed check
// panics with a *Violation: the durable state is about to be corrupted,
// and crashing beats persisting that.
package check
